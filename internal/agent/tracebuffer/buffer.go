package tracebuffer

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

var (
	// ErrEventTooLarge means an event cannot fit even in an empty segment.
	ErrEventTooLarge = errors.New("tracebuffer: event larger than a fresh segment")

	// ErrShadowStackUnderflow means an exit was recorded with no matching
	// entry. The caller must treat this as fatal: the real return address
	// is gone.
	ErrShadowStackUnderflow = errors.New("tracebuffer: shadow stack underflow")
)

// Sink receives finished segments. Implementations serialize internally;
// the buffer calls from its owning thread only.
type Sink interface {
	// ConsumeSegment takes one block-aligned encoded segment. The slice is
	// only valid for the duration of the call.
	ConsumeSegment(segment []byte) error
}

// ReturnPair is one shadow-stack slot: the diverted return address and the
// function whose entry diverted it.
type ReturnPair struct {
	ReturnAddr uint64
	Function   uint64
}

// Frame is the entry stub's view of the caller frame. RecordEntry rewrites
// ReturnAddr in place when diverting; the stub writes it back to the stack.
type Frame struct {
	ReturnAddr uint64
	ArgsAddr   uint64 // address of the first caller argument word
}

// Options configures a Buffer.
type Options struct {
	// SegmentSize is the slab capacity, a multiple of BlockSize.
	SegmentSize int

	// BlockSize is the trace file block alignment.
	BlockSize uint32

	// BatchCapacity bounds the in-buffer batch array; reaching it flushes
	// a batch-entry record. Zero picks the count that fits one segment.
	BatchCapacity int

	// TraceExits diverts returns through ExitTrampoline so exits can be
	// recorded.
	TraceExits bool

	// StackTraces captures a native backtrace on each full-fidelity entry.
	StackTraces bool

	// ExitTrampoline is the address return addresses are diverted to.
	ExitTrampoline uint64

	// CopyArgs reads up to n argument words at addr, zero-filling on
	// fault. Nil disables argument capture.
	CopyArgs func(addr uint64, n int) [format.NumArgWords]uint64

	// Backtrace captures the native call stack, skipping the agent's own
	// frames. Nil disables capture even when StackTraces is set.
	Backtrace func() []uint64

	// Now returns the current tick count. Nil uses wall nanoseconds.
	Now func() uint64
}

// DefaultOptions returns the agent's production configuration, without the
// platform callbacks.
func DefaultOptions() Options {
	return Options{
		SegmentSize: 8 * format.DefaultBlockSize,
		BlockSize:   format.DefaultBlockSize,
	}
}

// Buffer is one thread's trace segment under construction.
type Buffer struct {
	threadID uint32
	sink     Sink
	opts     Options
	log      *zap.Logger
	now      func() uint64

	slab []byte
	w    *binbuf.Writer

	batch  []batchCall
	shadow []ReturnPair

	dropped     uint64
	lastDropLog uint64
}

type batchCall struct {
	function uint64
	tick     uint64
}

// dropLogWindow spaces out consecutive-drop warnings, in ticks.
const dropLogWindow = uint64(time.Second)

// New builds a buffer for the given thread and opens its first segment.
func New(threadID uint32, sink Sink, opts Options, log *zap.Logger) *Buffer {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SegmentSize == 0 {
		opts.SegmentSize = DefaultOptions().SegmentSize
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = format.DefaultBlockSize
	}
	if opts.BatchCapacity == 0 {
		body := opts.SegmentSize - format.PrefixSize - format.SegmentHeaderSize
		opts.BatchCapacity = (body - format.PrefixSize - 8) / format.FuncCallSize
	}
	now := opts.Now
	if now == nil {
		now = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	b := &Buffer{
		threadID: threadID,
		sink:     sink,
		opts:     opts,
		log:      log,
		now:      now,
		slab:     make([]byte, opts.SegmentSize),
		batch:    make([]batchCall, 0, opts.BatchCapacity),
	}
	b.openSegment()
	return b
}

// ThreadID returns the owning thread's id.
func (b *Buffer) ThreadID() uint32 {
	return b.threadID
}

// Depth returns the current shadow-stack depth.
func (b *Buffer) Depth() int {
	return len(b.shadow)
}

// Dropped returns how many events were dropped on a full transport.
func (b *Buffer) Dropped() uint64 {
	return b.dropped
}

// openSegment resets the writer and lays down the segment framing. The
// segment length and timestamp are patched at flush time.
func (b *Buffer) openSegment() {
	b.w = binbuf.NewWriter(b.slab)
	// Framing cannot fail: the slab is at least one block.
	_ = format.EncodePrefix(b.w, format.RecordPrefix{
		Kind:      format.KindSegmentHeader,
		Size:      format.SegmentHeaderSize,
		VersionHi: format.VersionHi,
		VersionLo: format.VersionLo,
	})
	_ = format.EncodeSegmentHeader(b.w, format.SegmentHeader{ThreadID: b.threadID})
}

// bodyLen returns the bytes of event records currently in the segment.
func (b *Buffer) bodyLen() int {
	return b.w.Pos() - format.PrefixSize - format.SegmentHeaderSize
}

// Flush finishes the current segment, hands it to the sink, and opens a
// fresh one. Pending batch entries are emitted first so they are never
// stranded. Empty segments are not shipped.
func (b *Buffer) Flush() error {
	if len(b.batch) > 0 {
		if err := b.FlushBatch(); err != nil {
			return err
		}
	}
	if b.bodyLen() == 0 {
		return nil
	}

	now := b.now()
	patch := binbuf.NewWriter(b.slab)
	_ = format.EncodePrefix(patch, format.RecordPrefix{
		Kind:      format.KindSegmentHeader,
		Size:      format.SegmentHeaderSize,
		VersionHi: format.VersionHi,
		VersionLo: format.VersionLo,
		Timestamp: now,
	})
	_ = format.EncodeSegmentHeader(patch, format.SegmentHeader{
		ThreadID:      b.threadID,
		SegmentLength: uint32(b.bodyLen()),
	})

	if err := b.w.AlignZero(int(b.opts.BlockSize)); err != nil {
		return err
	}
	segment := b.w.Bytes()
	err := b.sink.ConsumeSegment(segment)
	b.openSegment()
	return err
}

// Reserve returns a writable region of n bytes at the current position,
// flushing first if the segment is full. Events that cannot fit a fresh
// segment are dropped: the error is returned and logged at most once per
// window.
func (b *Buffer) Reserve(n int) (*binbuf.Writer, error) {
	if b.w.Remaining() < n {
		if err := b.Flush(); err != nil {
			return nil, err
		}
		if b.w.Remaining() < n {
			b.dropEvent(n)
			return nil, ErrEventTooLarge
		}
	}
	return b.w, nil
}

func (b *Buffer) dropEvent(n int) {
	b.dropped++
	now := b.now()
	if now-b.lastDropLog >= dropLogWindow {
		b.lastDropLog = now
		b.log.Warn("dropping trace event",
			zap.Uint32("thread_id", b.threadID),
			zap.Int("event_size", n),
			zap.Uint64("dropped_total", b.dropped))
	}
}

// RecordEntry records a full-fidelity function entry.
//
// Up to four caller argument words are copied through the fault-tolerant
// reader. Depth equals the shadow-stack size before the push. When exit
// tracing is on, the caller's return address is pushed and frame.ReturnAddr
// is rewritten to the exit trampoline.
func (b *Buffer) RecordEntry(frame *Frame, function uint64) error {
	ev := format.FunctionEvent{
		Depth:    uint32(len(b.shadow)),
		Function: function,
	}
	if b.opts.CopyArgs != nil {
		ev.Args = b.opts.CopyArgs(frame.ArgsAddr, format.NumArgWords)
	}
	if b.opts.StackTraces && b.opts.Backtrace != nil {
		ev.Traces = b.FixupBacktrace(b.opts.Backtrace())
	}

	if err := b.writeEvent(format.KindFunctionEntry, ev); err != nil {
		return err
	}

	if b.opts.TraceExits {
		b.shadow = append(b.shadow, ReturnPair{
			ReturnAddr: frame.ReturnAddr,
			Function:   function,
		})
		frame.ReturnAddr = b.opts.ExitTrampoline
	}
	return nil
}

// RecordExit records a function exit and returns the saved return address
// the trampoline must resume. Fails with ErrShadowStackUnderflow if no
// entry is outstanding.
func (b *Buffer) RecordExit(retValue uint64) (uint64, error) {
	if len(b.shadow) == 0 {
		return 0, ErrShadowStackUnderflow
	}
	top := b.shadow[len(b.shadow)-1]
	b.shadow = b.shadow[:len(b.shadow)-1]

	ev := format.FunctionEvent{
		Depth:    uint32(len(b.shadow)),
		Function: top.Function,
	}
	ev.Args[0] = retValue
	if err := b.writeEvent(format.KindFunctionExit, ev); err != nil {
		return top.ReturnAddr, err
	}
	return top.ReturnAddr, nil
}

// UnwindTo discards shadow-stack entries above depth. Exception unwinding
// invalidates those frames without emitting exits; the grinders tolerate
// the resulting entry surplus.
func (b *Buffer) UnwindTo(depth int) {
	if depth < 0 {
		depth = 0
	}
	if depth < len(b.shadow) {
		b.shadow = b.shadow[:depth]
	}
}

// RecordBatch appends one low-overhead entry; a full batch array is
// flushed as a single record.
func (b *Buffer) RecordBatch(function uint64) error {
	b.batch = append(b.batch, batchCall{function: function, tick: b.now()})
	if len(b.batch) >= b.opts.BatchCapacity {
		return b.FlushBatch()
	}
	return nil
}

// FlushBatch drains the batch array into one batch-entry record. Each
// entry's absolute tick becomes ticks-ago relative to flush time, so the
// per-entry values totally order the batch.
func (b *Buffer) FlushBatch() error {
	if len(b.batch) == 0 {
		return nil
	}
	now := b.now()
	entry := format.BatchEntry{
		ThreadID: b.threadID,
		Calls:    make([]format.FuncCall, len(b.batch)),
	}
	for i, c := range b.batch {
		age := uint64(0)
		if now > c.tick {
			age = now - c.tick
		}
		entry.Calls[i] = format.FuncCall{
			Function: c.function,
			TicksAgo: saturate32(age),
		}
	}
	b.batch = b.batch[:0]

	size := entry.EncodedSize()
	w, err := b.Reserve(format.PrefixSize + size)
	if err != nil {
		return err
	}
	if err := format.EncodePrefix(w, format.RecordPrefix{
		Kind:      format.KindBatchEntry,
		Size:      uint16(size),
		VersionHi: format.VersionHi,
		VersionLo: format.VersionLo,
		Timestamp: now,
	}); err != nil {
		return err
	}
	return format.EncodeBatchEntry(w, entry)
}

// WriteModuleEvent records a module or thread lifecycle event into the
// thread's segment.
func (b *Buffer) WriteModuleEvent(kind format.RecordKind, m format.ModuleInfo) error {
	w, err := b.Reserve(format.PrefixSize + format.ModuleInfoSize)
	if err != nil {
		return err
	}
	if err := format.EncodePrefix(w, format.RecordPrefix{
		Kind:      kind,
		Size:      uint16(format.ModuleInfoSize),
		VersionHi: format.VersionHi,
		VersionLo: format.VersionLo,
		Timestamp: b.now(),
	}); err != nil {
		return err
	}
	return format.EncodeModuleInfo(w, m)
}

// WriteFunctionName records a function-id to name binding.
func (b *Buffer) WriteFunctionName(e format.FunctionNameEntry) error {
	size := e.EncodedSize()
	w, err := b.Reserve(format.PrefixSize + size)
	if err != nil {
		return err
	}
	if err := format.EncodePrefix(w, format.RecordPrefix{
		Kind:      format.KindFunctionNameTable,
		Size:      uint16(size),
		VersionHi: format.VersionHi,
		VersionLo: format.VersionLo,
		Timestamp: b.now(),
	}); err != nil {
		return err
	}
	return format.EncodeFunctionNameEntry(w, e)
}

// FixupBacktrace replaces frames pointing at the exit trampoline with the
// matching saved return addresses, walking the shadow stack in reverse.
// The innermost diverted frame corresponds to the newest shadow entry.
func (b *Buffer) FixupBacktrace(pcs []uint64) []uint64 {
	if !b.opts.TraceExits || b.opts.ExitTrampoline == 0 {
		return pcs
	}
	next := len(b.shadow) - 1
	for i, pc := range pcs {
		if pc != b.opts.ExitTrampoline {
			continue
		}
		if next < 0 {
			break
		}
		pcs[i] = b.shadow[next].ReturnAddr
		next--
	}
	return pcs
}

func (b *Buffer) writeEvent(kind format.RecordKind, ev format.FunctionEvent) error {
	size := ev.EncodedSize()
	w, err := b.Reserve(format.PrefixSize + size)
	if err != nil {
		return err
	}
	if err := format.EncodePrefix(w, format.RecordPrefix{
		Kind:      kind,
		Size:      uint16(size),
		VersionHi: format.VersionHi,
		VersionLo: format.VersionLo,
		Timestamp: b.now(),
	}); err != nil {
		return err
	}
	return format.EncodeFunctionEvent(w, ev)
}

func saturate32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}
