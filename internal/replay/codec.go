package replay

import (
	"github.com/pkg/errors"

	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
)

// Serialized stories are little-endian: a plot-line count, then per line
// an event count and the typed events, then a flat causal-edge list. Each
// edge endpoint names a linked event by the stable integer id assigned in
// serialization order (line-major, event order within the line).

// Codec errors.
var (
	ErrBadStory         = errors.New("replay: malformed story image")
	ErrUnknownEventKind = errors.New("replay: unknown serialized event kind")
)

// Serialized event kinds.
const (
	kindInvalid uint16 = iota
	kindHeapCreate
	kindHeapDestroy
	kindHeapAlloc
	kindHeapReAlloc
	kindHeapFree
	kindHeapSize
	kindHeapSetInformation
	kindGetProcessHeap
)

func eventKind(ev Event) (uint16, int, error) {
	switch ev.(type) {
	case HeapCreateEvent:
		return kindHeapCreate, 28, nil
	case HeapDestroyEvent:
		return kindHeapDestroy, 8, nil
	case HeapAllocEvent:
		return kindHeapAlloc, 28, nil
	case HeapReAllocEvent:
		return kindHeapReAlloc, 36, nil
	case HeapFreeEvent:
		return kindHeapFree, 20, nil
	case HeapSizeEvent:
		return kindHeapSize, 28, nil
	case HeapSetInformationEvent:
		return kindHeapSetInformation, 12, nil
	case GetProcessHeapEvent:
		return kindGetProcessHeap, 8, nil
	default:
		return kindInvalid, 0, errors.Wrapf(ErrUnknownEventKind, "%T", ev)
	}
}

// EncodeStory serializes s, edges included.
func EncodeStory(s *Story) ([]byte, error) {
	size := 4
	for _, line := range s.lines {
		size += 4
		for _, linked := range line.events {
			_, payload, err := eventKind(linked.Inner())
			if err != nil {
				return nil, err
			}
			size += 2 + payload
		}
	}
	size += 4 + len(s.edges)*8

	buf := make([]byte, size)
	w := binbuf.NewWriter(buf)

	if err := w.PutUint32(uint32(len(s.lines))); err != nil {
		return nil, err
	}
	for _, line := range s.lines {
		if err := w.PutUint32(uint32(line.Len())); err != nil {
			return nil, err
		}
		for _, linked := range line.events {
			if err := encodeEvent(w, linked.Inner()); err != nil {
				return nil, err
			}
		}
	}

	ids := newPointIndex(s)
	if err := w.PutUint32(uint32(len(s.edges))); err != nil {
		return nil, err
	}
	for _, edge := range s.edges {
		from, err := ids.id(edge.From)
		if err != nil {
			return nil, err
		}
		to, err := ids.id(edge.To)
		if err != nil {
			return nil, err
		}
		if err := w.PutUint32(from); err != nil {
			return nil, err
		}
		if err := w.PutUint32(to); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeStory rebuilds a story, including its causal-edge dependencies.
func DecodeStory(image []byte) (*Story, error) {
	r := binbuf.NewReader(image)
	lineCount, err := r.ReadUint32()
	if err != nil {
		return nil, errors.Wrap(ErrBadStory, "line count")
	}

	s := NewStory()
	for i := uint32(0); i < lineCount; i++ {
		line := s.AddLine()
		eventCount, err := r.ReadUint32()
		if err != nil {
			return nil, errors.Wrapf(ErrBadStory, "event count for line %d", i)
		}
		for j := uint32(0); j < eventCount; j++ {
			ev, err := decodeEvent(r)
			if err != nil {
				return nil, err
			}
			line.Append(ev)
		}
	}

	ids := newPointIndex(s)
	edgeCount, err := r.ReadUint32()
	if err != nil {
		return nil, errors.Wrap(ErrBadStory, "edge count")
	}
	for i := uint32(0); i < edgeCount; i++ {
		from, err := r.ReadUint32()
		if err != nil {
			return nil, errors.Wrap(ErrBadStory, "edge source")
		}
		to, err := r.ReadUint32()
		if err != nil {
			return nil, errors.Wrap(ErrBadStory, "edge target")
		}
		src, err := ids.point(from)
		if err != nil {
			return nil, err
		}
		dst, err := ids.point(to)
		if err != nil {
			return nil, err
		}
		if err := s.AddCausalEdge(src, dst); err != nil {
			return nil, err
		}
	}
	if !r.Empty() {
		return nil, errors.Wrapf(ErrBadStory, "%d trailing bytes", r.Remaining())
	}
	return s, nil
}

// pointIndex maps between plot points and serialization-order ids.
type pointIndex struct {
	starts []uint32 // first id of each line
	total  uint32
}

func newPointIndex(s *Story) *pointIndex {
	idx := &pointIndex{starts: make([]uint32, len(s.lines))}
	for i, line := range s.lines {
		idx.starts[i] = idx.total
		idx.total += uint32(line.Len())
	}
	return idx
}

func (idx *pointIndex) id(p PlotPoint) (uint32, error) {
	if p.Line < 0 || p.Line >= len(idx.starts) {
		return 0, errors.Wrapf(ErrBadEdge, "line %d", p.Line)
	}
	return idx.starts[p.Line] + uint32(p.Event), nil
}

func (idx *pointIndex) point(id uint32) (PlotPoint, error) {
	if id >= idx.total {
		return PlotPoint{}, errors.Wrapf(ErrBadEdge, "event id %d of %d", id, idx.total)
	}
	line := len(idx.starts) - 1
	for line > 0 && idx.starts[line] > id {
		line--
	}
	return PlotPoint{Line: line, Event: int(id - idx.starts[line])}, nil
}

func encodeEvent(w *binbuf.Writer, ev Event) error {
	kind, _, err := eventKind(ev)
	if err != nil {
		return err
	}
	if err := w.PutUint16(kind); err != nil {
		return err
	}
	var words []interface{}
	switch e := ev.(type) {
	case HeapCreateEvent:
		words = []interface{}{e.Options, e.InitialSize, e.MaxSize, uint64(e.Result)}
	case HeapDestroyEvent:
		words = []interface{}{uint64(e.Heap)}
	case HeapAllocEvent:
		words = []interface{}{uint64(e.Heap), e.Flags, e.Size, uint64(e.Result)}
	case HeapReAllocEvent:
		words = []interface{}{uint64(e.Heap), e.Flags, uint64(e.Block), e.Size, uint64(e.Result)}
	case HeapFreeEvent:
		words = []interface{}{uint64(e.Heap), e.Flags, uint64(e.Block)}
	case HeapSizeEvent:
		words = []interface{}{uint64(e.Heap), e.Flags, uint64(e.Block), e.Result}
	case HeapSetInformationEvent:
		words = []interface{}{uint64(e.Heap), e.InfoClass}
	case GetProcessHeapEvent:
		words = []interface{}{uint64(e.Result)}
	}
	for _, word := range words {
		switch v := word.(type) {
		case uint32:
			err = w.PutUint32(v)
		case uint64:
			err = w.PutUint64(v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// eventReader reads payload fields, latching the first failure so the
// per-kind decoders stay flat.
type eventReader struct {
	r   *binbuf.Reader
	err error
}

func (er *eventReader) u32() uint32 {
	if er.err != nil {
		return 0
	}
	var v uint32
	v, er.err = er.r.ReadUint32()
	return v
}

func (er *eventReader) u64() uint64 {
	if er.err != nil {
		return 0
	}
	var v uint64
	v, er.err = er.r.ReadUint64()
	return v
}

func (er *eventReader) handle() Handle {
	return Handle(er.u64())
}

func decodeEvent(r *binbuf.Reader) (Event, error) {
	kind, err := r.ReadUint16()
	if err != nil {
		return nil, errors.Wrap(ErrBadStory, "event kind")
	}

	er := &eventReader{r: r}
	var ev Event
	switch kind {
	case kindHeapCreate:
		ev = HeapCreateEvent{Options: er.u32(), InitialSize: er.u64(), MaxSize: er.u64(), Result: er.handle()}
	case kindHeapDestroy:
		ev = HeapDestroyEvent{Heap: er.handle()}
	case kindHeapAlloc:
		ev = HeapAllocEvent{Heap: er.handle(), Flags: er.u32(), Size: er.u64(), Result: er.handle()}
	case kindHeapReAlloc:
		ev = HeapReAllocEvent{Heap: er.handle(), Flags: er.u32(), Block: er.handle(), Size: er.u64(), Result: er.handle()}
	case kindHeapFree:
		ev = HeapFreeEvent{Heap: er.handle(), Flags: er.u32(), Block: er.handle()}
	case kindHeapSize:
		ev = HeapSizeEvent{Heap: er.handle(), Flags: er.u32(), Block: er.handle(), Result: er.u64()}
	case kindHeapSetInformation:
		ev = HeapSetInformationEvent{Heap: er.handle(), InfoClass: er.u32()}
	case kindGetProcessHeap:
		ev = GetProcessHeapEvent{Result: er.handle()}
	default:
		return nil, errors.Wrapf(ErrUnknownEventKind, "kind %d", kind)
	}
	if er.err != nil {
		return nil, errors.Wrapf(ErrBadStory, "payload for kind %d", kind)
	}
	return ev, nil
}
