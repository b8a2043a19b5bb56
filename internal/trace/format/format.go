package format

import (
	"errors"
	"fmt"

	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
)

// RecordKind discriminates event records. The universe of kinds is finite;
// parsers running in strict mode fail on anything else.
type RecordKind uint16

// The record kinds carried by the format.
const (
	KindInvalid            RecordKind = iota // never written
	KindSegmentHeader                        // introduces a trace segment
	KindFunctionEntry                        // full-fidelity function entry
	KindFunctionExit                         // full-fidelity function exit
	KindBatchEntry                           // aggregated entry-only events
	KindModuleAttach                         // module loaded into the process
	KindModuleDetach                         // module unloaded
	KindThreadAttach                         // thread started
	KindThreadDetach                         // thread ending
	KindFunctionNameTable                    // function_id -> name binding
)

// String returns the kind mnemonic.
func (k RecordKind) String() string {
	switch k {
	case KindSegmentHeader:
		return "segment-header"
	case KindFunctionEntry:
		return "function-entry"
	case KindFunctionExit:
		return "function-exit"
	case KindBatchEntry:
		return "batch-entry"
	case KindModuleAttach:
		return "module-attach"
	case KindModuleDetach:
		return "module-detach"
	case KindThreadAttach:
		return "thread-attach"
	case KindThreadDetach:
		return "thread-detach"
	case KindFunctionNameTable:
		return "function-name-table-entry"
	}
	return fmt.Sprintf("unknown(%d)", uint16(k))
}

// Format constants.
const (
	// Signature is the file sentinel, 'TRC8' little-endian. The trailing
	// byte declares the 64-bit pointer width; a 32-bit emitter writes
	// 'TRC4' and such files are refused.
	Signature uint32 = 0x38435254

	// Signature32 is the sentinel of the 32-bit variant of the format.
	Signature32 uint32 = 0x34435254

	// VersionHi and VersionLo are the current format version. Segment
	// prefixes carry them and the parser refuses a mismatch.
	VersionHi uint8 = 1
	VersionLo uint8 = 0

	// MinBlockSize bounds the block size declared in the header; it must
	// also be a power of two.
	MinBlockSize = 512

	// DefaultBlockSize is what the agent emits.
	DefaultBlockSize = 4096

	// PrefixSize is the encoded size of a RecordPrefix: kind(2) size(2)
	// version(2) pad(2) timestamp(8).
	PrefixSize = 16

	// SegmentHeaderSize is the encoded size of a SegmentHeader.
	SegmentHeaderSize = 8

	// MaxModuleNameChars and MaxModulePathChars size the fixed wide-char
	// buffers in module records and the file header.
	MaxModuleNameChars = 256
	MaxModulePathChars = 260
)

// Format errors surfaced by the decoders.
var (
	ErrBadSignature  = errors.New("format: bad file signature")
	ErrPointerWidth  = errors.New("format: pointer width of trace does not match this reader")
	ErrBadVersion    = errors.New("format: record version mismatch")
	ErrBadBlockSize  = errors.New("format: block size is not a power of two >= 512")
	ErrBadHeaderSize = errors.New("format: header self-size mismatch")
	ErrNotSegment    = errors.New("format: expected a segment-header record")
	ErrSegmentBounds = errors.New("format: segment exceeds its block allotment")
	ErrTruncated     = errors.New("format: record truncated")
	ErrEmptyFuncName = errors.New("format: function-name entry with empty name")
	ErrUnknownKind   = errors.New("format: unknown record kind")
)

// RecordPrefix introduces every record in the file, segments included.
// Size counts only the payload that follows the prefix.
type RecordPrefix struct {
	Kind      RecordKind
	Size      uint16
	VersionHi uint8
	VersionLo uint8
	Timestamp uint64
}

// EncodePrefix writes p through w.
func EncodePrefix(w *binbuf.Writer, p RecordPrefix) error {
	if err := w.PutUint16(uint16(p.Kind)); err != nil {
		return err
	}
	if err := w.PutUint16(p.Size); err != nil {
		return err
	}
	if err := w.PutUint8(p.VersionHi); err != nil {
		return err
	}
	if err := w.PutUint8(p.VersionLo); err != nil {
		return err
	}
	if err := w.PutUint16(0); err != nil { // pad
		return err
	}
	return w.PutUint64(p.Timestamp)
}

// DecodePrefix reads a RecordPrefix from r.
func DecodePrefix(r *binbuf.Reader) (RecordPrefix, error) {
	var p RecordPrefix
	kind, err := r.ReadUint16()
	if err != nil {
		return p, err
	}
	p.Kind = RecordKind(kind)
	if p.Size, err = r.ReadUint16(); err != nil {
		return p, err
	}
	if p.VersionHi, err = r.ReadUint8(); err != nil {
		return p, err
	}
	if p.VersionLo, err = r.ReadUint8(); err != nil {
		return p, err
	}
	if err = r.Consume(2); err != nil { // pad
		return p, err
	}
	p.Timestamp, err = r.ReadUint64()
	return p, err
}

// SegmentHeader follows a KindSegmentHeader prefix and frames one thread's
// run of event records.
type SegmentHeader struct {
	ThreadID      uint32
	SegmentLength uint32
}

// EncodeSegmentHeader writes h through w.
func EncodeSegmentHeader(w *binbuf.Writer, h SegmentHeader) error {
	if err := w.PutUint32(h.ThreadID); err != nil {
		return err
	}
	return w.PutUint32(h.SegmentLength)
}

// DecodeSegmentHeader reads a SegmentHeader from r.
func DecodeSegmentHeader(r *binbuf.Reader) (SegmentHeader, error) {
	var h SegmentHeader
	var err error
	if h.ThreadID, err = r.ReadUint32(); err != nil {
		return h, err
	}
	h.SegmentLength, err = r.ReadUint32()
	return h, err
}

// ValidateSegmentStart checks the framing invariants of a segment sitting at
// a block boundary: the prefix kind, version match, and that prefix, header
// and body fit in the bytes remaining from the block start to end of file.
func ValidateSegmentStart(prefix RecordPrefix, header SegmentHeader, remaining int64) error {
	if prefix.Kind != KindSegmentHeader {
		return ErrNotSegment
	}
	if prefix.VersionHi != VersionHi || prefix.VersionLo != VersionLo {
		return ErrBadVersion
	}
	total := int64(PrefixSize) + int64(SegmentHeaderSize) + int64(header.SegmentLength)
	if total > remaining {
		return ErrSegmentBounds
	}
	return nil
}

// SegmentAllotment returns the block-aligned byte count a segment of the
// given body length occupies on disk.
func SegmentAllotment(segmentLength, blockSize uint32) int64 {
	total := int64(PrefixSize) + int64(SegmentHeaderSize) + int64(segmentLength)
	bs := int64(blockSize)
	return (total + bs - 1) / bs * bs
}

// IsPowerOfTwo reports whether v is a nonzero power of two.
func IsPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
