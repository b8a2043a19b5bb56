package replay

import (
	"sync"

	"github.com/pkg/errors"
)

// Handle identifies a heap or an allocated block. Recorded events carry
// the handle values the traced process saw; the backdrop issues fresh
// ones at replay time and Playback translates between the two.
type Handle uint64

// Backdrop is the replay-time heap the Story's events drive. The method
// set mirrors the traced heap API surface one call per event kind.
type Backdrop interface {
	HeapCreate(options uint32, initialSize, maxSize uint64) (Handle, error)
	HeapDestroy(heap Handle) error
	HeapAlloc(heap Handle, flags uint32, size uint64) (Handle, error)
	HeapReAlloc(heap Handle, flags uint32, block Handle, size uint64) (Handle, error)
	HeapFree(heap Handle, flags uint32, block Handle) error
	HeapSize(heap Handle, flags uint32, block Handle) (uint64, error)
	HeapSetInformation(heap Handle, infoClass uint32) error
	GetProcessHeap() (Handle, error)
}

// Backdrop errors.
var (
	ErrUnknownHeap  = errors.New("replay: operation on unknown heap")
	ErrUnknownBlock = errors.New("replay: operation on unknown block")
	ErrSizeMismatch = errors.New("replay: block size differs from recording")
)

// HeapCreateEvent replays a heap creation and binds the recorded handle
// to the freshly created heap.
type HeapCreateEvent struct {
	Options     uint32
	InitialSize uint64
	MaxSize     uint64
	Result      Handle
}

func (e HeapCreateEvent) Play(pb *Playback) error {
	live, err := pb.Backdrop().HeapCreate(e.Options, e.InitialSize, e.MaxSize)
	if err != nil {
		return errors.Wrap(err, "heap create")
	}
	pb.bind(e.Result, live)
	return nil
}

// HeapDestroyEvent replays a heap destruction.
type HeapDestroyEvent struct {
	Heap Handle
}

func (e HeapDestroyEvent) Play(pb *Playback) error {
	heap, err := pb.resolve(e.Heap)
	if err != nil {
		return err
	}
	if err := pb.Backdrop().HeapDestroy(heap); err != nil {
		return errors.Wrap(err, "heap destroy")
	}
	pb.unbind(e.Heap)
	return nil
}

// HeapAllocEvent replays an allocation and binds the recorded block
// handle to the new block.
type HeapAllocEvent struct {
	Heap   Handle
	Flags  uint32
	Size   uint64
	Result Handle
}

func (e HeapAllocEvent) Play(pb *Playback) error {
	heap, err := pb.resolve(e.Heap)
	if err != nil {
		return err
	}
	live, err := pb.Backdrop().HeapAlloc(heap, e.Flags, e.Size)
	if err != nil {
		return errors.Wrap(err, "heap alloc")
	}
	pb.bind(e.Result, live)
	return nil
}

// HeapReAllocEvent replays a reallocation: the recorded input block is
// unbound and the recorded result is bound to the block the backdrop
// returned.
type HeapReAllocEvent struct {
	Heap   Handle
	Flags  uint32
	Block  Handle
	Size   uint64
	Result Handle
}

func (e HeapReAllocEvent) Play(pb *Playback) error {
	heap, err := pb.resolve(e.Heap)
	if err != nil {
		return err
	}
	block, err := pb.resolve(e.Block)
	if err != nil {
		return err
	}
	live, err := pb.Backdrop().HeapReAlloc(heap, e.Flags, block, e.Size)
	if err != nil {
		return errors.Wrap(err, "heap realloc")
	}
	pb.unbind(e.Block)
	pb.bind(e.Result, live)
	return nil
}

// HeapFreeEvent replays a free.
type HeapFreeEvent struct {
	Heap  Handle
	Flags uint32
	Block Handle
}

func (e HeapFreeEvent) Play(pb *Playback) error {
	heap, err := pb.resolve(e.Heap)
	if err != nil {
		return err
	}
	block, err := pb.resolve(e.Block)
	if err != nil {
		return err
	}
	if err := pb.Backdrop().HeapFree(heap, e.Flags, block); err != nil {
		return errors.Wrap(err, "heap free")
	}
	pb.unbind(e.Block)
	return nil
}

// HeapSizeEvent replays a size query and checks the answer against the
// recorded one. A divergence means the replay no longer mirrors the
// traced execution.
type HeapSizeEvent struct {
	Heap   Handle
	Flags  uint32
	Block  Handle
	Result uint64
}

func (e HeapSizeEvent) Play(pb *Playback) error {
	heap, err := pb.resolve(e.Heap)
	if err != nil {
		return err
	}
	block, err := pb.resolve(e.Block)
	if err != nil {
		return err
	}
	size, err := pb.Backdrop().HeapSize(heap, e.Flags, block)
	if err != nil {
		return errors.Wrap(err, "heap size")
	}
	if size != e.Result {
		return errors.Wrapf(ErrSizeMismatch, "got %d, recorded %d", size, e.Result)
	}
	return nil
}

// HeapSetInformationEvent replays a heap configuration call.
type HeapSetInformationEvent struct {
	Heap      Handle
	InfoClass uint32
}

func (e HeapSetInformationEvent) Play(pb *Playback) error {
	heap, err := pb.resolve(e.Heap)
	if err != nil {
		return err
	}
	return pb.Backdrop().HeapSetInformation(heap, e.InfoClass)
}

// GetProcessHeapEvent binds the recorded process-heap handle to the
// backdrop's default heap.
type GetProcessHeapEvent struct {
	Result Handle
}

func (e GetProcessHeapEvent) Play(pb *Playback) error {
	live, err := pb.Backdrop().GetProcessHeap()
	if err != nil {
		return errors.Wrap(err, "get process heap")
	}
	pb.bind(e.Result, live)
	return nil
}

// MemoryBackdrop is an in-memory Backdrop: heaps are maps from block
// handle to block size. It verifies handle discipline (unknown heaps and
// blocks fail) without allocating real memory for the blocks.
type MemoryBackdrop struct {
	mu          sync.Mutex
	next        Handle
	heaps       map[Handle]map[Handle]uint64
	processHeap Handle
}

// NewMemoryBackdrop returns a backdrop holding only the process heap.
func NewMemoryBackdrop() *MemoryBackdrop {
	b := &MemoryBackdrop{
		next:  1,
		heaps: make(map[Handle]map[Handle]uint64),
	}
	b.processHeap = b.newHandle()
	b.heaps[b.processHeap] = make(map[Handle]uint64)
	return b
}

func (b *MemoryBackdrop) newHandle() Handle {
	h := b.next
	b.next++
	return h
}

func (b *MemoryBackdrop) HeapCreate(options uint32, initialSize, maxSize uint64) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.newHandle()
	b.heaps[h] = make(map[Handle]uint64)
	return h, nil
}

func (b *MemoryBackdrop) HeapDestroy(heap Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.heaps[heap]; !ok {
		return errors.Wrapf(ErrUnknownHeap, "heap %#x", uint64(heap))
	}
	delete(b.heaps, heap)
	return nil
}

func (b *MemoryBackdrop) HeapAlloc(heap Handle, flags uint32, size uint64) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blocks, ok := b.heaps[heap]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownHeap, "heap %#x", uint64(heap))
	}
	block := b.newHandle()
	blocks[block] = size
	return block, nil
}

func (b *MemoryBackdrop) HeapReAlloc(heap Handle, flags uint32, block Handle, size uint64) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blocks, ok := b.heaps[heap]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownHeap, "heap %#x", uint64(heap))
	}
	if _, ok := blocks[block]; !ok {
		return 0, errors.Wrapf(ErrUnknownBlock, "block %#x", uint64(block))
	}
	delete(blocks, block)
	moved := b.newHandle()
	blocks[moved] = size
	return moved, nil
}

func (b *MemoryBackdrop) HeapFree(heap Handle, flags uint32, block Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	blocks, ok := b.heaps[heap]
	if !ok {
		return errors.Wrapf(ErrUnknownHeap, "heap %#x", uint64(heap))
	}
	if _, ok := blocks[block]; !ok {
		return errors.Wrapf(ErrUnknownBlock, "block %#x", uint64(block))
	}
	delete(blocks, block)
	return nil
}

func (b *MemoryBackdrop) HeapSize(heap Handle, flags uint32, block Handle) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blocks, ok := b.heaps[heap]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownHeap, "heap %#x", uint64(heap))
	}
	size, ok := blocks[block]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownBlock, "block %#x", uint64(block))
	}
	return size, nil
}

func (b *MemoryBackdrop) HeapSetInformation(heap Handle, infoClass uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.heaps[heap]; !ok {
		return errors.Wrapf(ErrUnknownHeap, "heap %#x", uint64(heap))
	}
	return nil
}

func (b *MemoryBackdrop) GetProcessHeap() (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processHeap, nil
}
