package format

import (
	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
)

// NumArgWords is how many caller argument words a full-fidelity entry
// record captures. Exits reuse the first slot for the return value.
const NumArgWords = 4

// FunctionEvent is the payload of KindFunctionEntry and KindFunctionExit.
//
// Depth is the shadow-stack depth at the time of the event. Args holds the
// first four argument words on entry and the return value (slot 0) on exit.
// Traces is an optional native backtrace, innermost frame first.
type FunctionEvent struct {
	Depth    uint32
	Function uint64
	Args     [NumArgWords]uint64
	Traces   []uint64
}

// EncodedSize returns the payload size of the event.
func (e FunctionEvent) EncodedSize() int {
	return 4 + 8 + NumArgWords*8 + 4 + len(e.Traces)*8
}

// EncodeFunctionEvent writes e through w.
func EncodeFunctionEvent(w *binbuf.Writer, e FunctionEvent) error {
	if err := w.PutUint32(e.Depth); err != nil {
		return err
	}
	if err := w.PutPointer(e.Function); err != nil {
		return err
	}
	for _, a := range e.Args {
		if err := w.PutUint64(a); err != nil {
			return err
		}
	}
	if err := w.PutUint32(uint32(len(e.Traces))); err != nil {
		return err
	}
	for _, pc := range e.Traces {
		if err := w.PutPointer(pc); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFunctionEvent reads a FunctionEvent from r.
func DecodeFunctionEvent(r *binbuf.Reader) (FunctionEvent, error) {
	var e FunctionEvent
	var err error
	if e.Depth, err = r.ReadUint32(); err != nil {
		return e, ErrTruncated
	}
	if e.Function, err = r.ReadPointer(); err != nil {
		return e, ErrTruncated
	}
	for i := range e.Args {
		if e.Args[i], err = r.ReadUint64(); err != nil {
			return e, ErrTruncated
		}
	}
	n, err := r.ReadUint32()
	if err != nil {
		return e, ErrTruncated
	}
	if n > 0 {
		if r.Remaining() < int(n)*binbuf.PointerSize {
			return e, ErrTruncated
		}
		e.Traces = make([]uint64, n)
		for i := range e.Traces {
			if e.Traces[i], err = r.ReadPointer(); err != nil {
				return e, ErrTruncated
			}
		}
	}
	return e, nil
}

// FuncCall is one aggregated call inside a batch-entry record. TicksAgo is
// relative to the enclosing segment's wall time.
type FuncCall struct {
	Function uint64
	TicksAgo uint32
}

// FuncCallSize is the encoded size of one FuncCall.
const FuncCallSize = 8 + 4

// BatchEntry is the payload of KindBatchEntry: many low-overhead function
// entries recorded by one thread and flushed as a single record.
type BatchEntry struct {
	ThreadID uint32
	Calls    []FuncCall
}

// EncodedSize returns the payload size of the batch.
func (b BatchEntry) EncodedSize() int {
	return 4 + 4 + len(b.Calls)*FuncCallSize
}

// EncodeBatchEntry writes b through w.
func EncodeBatchEntry(w *binbuf.Writer, b BatchEntry) error {
	if err := w.PutUint32(b.ThreadID); err != nil {
		return err
	}
	if err := w.PutUint32(uint32(len(b.Calls))); err != nil {
		return err
	}
	for _, c := range b.Calls {
		if err := w.PutPointer(c.Function); err != nil {
			return err
		}
		if err := w.PutUint32(c.TicksAgo); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBatchEntry reads a BatchEntry from r.
func DecodeBatchEntry(r *binbuf.Reader) (BatchEntry, error) {
	var b BatchEntry
	var err error
	if b.ThreadID, err = r.ReadUint32(); err != nil {
		return b, ErrTruncated
	}
	n, err := r.ReadUint32()
	if err != nil {
		return b, ErrTruncated
	}
	if r.Remaining() < int(n)*FuncCallSize {
		return b, ErrTruncated
	}
	b.Calls = make([]FuncCall, n)
	for i := range b.Calls {
		if b.Calls[i].Function, err = r.ReadPointer(); err != nil {
			return b, ErrTruncated
		}
		if b.Calls[i].TicksAgo, err = r.ReadUint32(); err != nil {
			return b, ErrTruncated
		}
	}
	return b, nil
}

// ModuleInfo is the payload of the module and thread attach/detach kinds.
// Thread events carry the module that hosted the attaching code.
type ModuleInfo struct {
	BaseAddress    uint64
	ModuleSize     uint32
	Checksum       uint32
	TimeDateStamp  uint32
	ModuleName     string
	ExecutablePath string
}

// ModuleInfoSize is the fixed encoded size of a ModuleInfo payload.
const ModuleInfoSize = 8 + 4 + 4 + 4 + 2*MaxModuleNameChars + 2*MaxModulePathChars

// EncodeModuleInfo writes m through w.
func EncodeModuleInfo(w *binbuf.Writer, m ModuleInfo) error {
	if err := w.PutUint64(m.BaseAddress); err != nil {
		return err
	}
	if err := w.PutUint32(m.ModuleSize); err != nil {
		return err
	}
	if err := w.PutUint32(m.Checksum); err != nil {
		return err
	}
	if err := w.PutUint32(m.TimeDateStamp); err != nil {
		return err
	}
	if err := w.PutBytes(binbuf.EncodeWide(m.ModuleName, 2*MaxModuleNameChars)); err != nil {
		return err
	}
	return w.PutBytes(binbuf.EncodeWide(m.ExecutablePath, 2*MaxModulePathChars))
}

// DecodeModuleInfo reads a ModuleInfo from r.
func DecodeModuleInfo(r *binbuf.Reader) (ModuleInfo, error) {
	var m ModuleInfo
	var err error
	if m.BaseAddress, err = r.ReadUint64(); err != nil {
		return m, ErrTruncated
	}
	if m.ModuleSize, err = r.ReadUint32(); err != nil {
		return m, ErrTruncated
	}
	if m.Checksum, err = r.ReadUint32(); err != nil {
		return m, ErrTruncated
	}
	if m.TimeDateStamp, err = r.ReadUint32(); err != nil {
		return m, ErrTruncated
	}
	name, err := r.ReadBytes(2 * MaxModuleNameChars)
	if err != nil {
		return m, ErrTruncated
	}
	m.ModuleName = binbuf.DecodeWide(name)
	path, err := r.ReadBytes(2 * MaxModulePathChars)
	if err != nil {
		return m, ErrTruncated
	}
	m.ExecutablePath = binbuf.DecodeWide(path)
	return m, nil
}

// FunctionNameEntry is the payload of KindFunctionNameTable: a per-process
// binding from a function id to a UTF-8 name. Heap-event records reference
// functions by these ids.
type FunctionNameEntry struct {
	FunctionID uint32
	Name       string
}

// EncodedSize returns the payload size of the entry, including the
// trailing NUL of the name.
func (e FunctionNameEntry) EncodedSize() int {
	return 4 + 4 + len(e.Name) + 1
}

// EncodeFunctionNameEntry writes e through w. An empty name is invalid and
// is refused here rather than silently recorded.
func EncodeFunctionNameEntry(w *binbuf.Writer, e FunctionNameEntry) error {
	if len(e.Name) == 0 {
		return ErrEmptyFuncName
	}
	if err := w.PutUint32(e.FunctionID); err != nil {
		return err
	}
	if err := w.PutUint32(uint32(len(e.Name) + 1)); err != nil {
		return err
	}
	if err := w.PutBytes([]byte(e.Name)); err != nil {
		return err
	}
	return w.PutUint8(0)
}

// DecodeFunctionNameEntry reads a FunctionNameEntry from r. Entries with an
// empty name are rejected.
func DecodeFunctionNameEntry(r *binbuf.Reader) (FunctionNameEntry, error) {
	var e FunctionNameEntry
	var err error
	if e.FunctionID, err = r.ReadUint32(); err != nil {
		return e, ErrTruncated
	}
	n, err := r.ReadUint32()
	if err != nil {
		return e, ErrTruncated
	}
	if n <= 1 {
		return e, ErrEmptyFuncName
	}
	raw, err := r.ReadBytes(int(n))
	if err != nil {
		return e, ErrTruncated
	}
	if raw[n-1] != 0 {
		return e, ErrTruncated
	}
	e.Name = string(raw[:n-1])
	return e, nil
}
