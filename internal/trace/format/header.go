package format

import (
	"unicode/utf16"

	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
)

// FileHeaderFixedSize is the encoded size of FileHeader without the
// variable-length command line: signature(4) headerSize(4) blockSize(4)
// processID(4) timestamp(8) moduleBase(8) moduleSize(4) moduleChecksum(4)
// moduleTimeDateStamp(4) modulePath(2*260) commandLineLen(4).
const FileHeaderFixedSize = 4 + 4 + 4 + 4 + 8 + 8 + 4 + 4 + 4 + 2*MaxModulePathChars + 4

// FileHeader occupies block 0 of a trace file and identifies the recorded
// process and its main module.
//
// HeaderSize is a self-size: FileHeaderFixedSize plus two bytes per UTF-16
// code unit of the command line, which is appended after the fixed struct.
type FileHeader struct {
	BlockSize           uint32
	ProcessID           uint32
	Timestamp           uint64 // FILETIME of process start
	ModuleBaseAddress   uint64
	ModuleSize          uint32
	ModuleChecksum      uint32
	ModuleTimeDateStamp uint32
	ModulePath          string
	CommandLine         string
}

// HeaderSize returns the self-size the encoded header declares.
func (h FileHeader) HeaderSize() uint32 {
	return FileHeaderFixedSize + 2*uint32(len(utf16.Encode([]rune(h.CommandLine))))
}

// EncodeFileHeader serializes h, including the command-line tail. The
// caller pads the result out to one block.
func EncodeFileHeader(h FileHeader) ([]byte, error) {
	units := utf16.Encode([]rune(h.CommandLine))
	buf := make([]byte, FileHeaderFixedSize+2*len(units))
	w := binbuf.NewWriter(buf)

	if err := w.PutUint32(Signature); err != nil {
		return nil, err
	}
	if err := w.PutUint32(h.HeaderSize()); err != nil {
		return nil, err
	}
	if err := w.PutUint32(h.BlockSize); err != nil {
		return nil, err
	}
	if err := w.PutUint32(h.ProcessID); err != nil {
		return nil, err
	}
	if err := w.PutUint64(h.Timestamp); err != nil {
		return nil, err
	}
	if err := w.PutUint64(h.ModuleBaseAddress); err != nil {
		return nil, err
	}
	if err := w.PutUint32(h.ModuleSize); err != nil {
		return nil, err
	}
	if err := w.PutUint32(h.ModuleChecksum); err != nil {
		return nil, err
	}
	if err := w.PutUint32(h.ModuleTimeDateStamp); err != nil {
		return nil, err
	}
	if err := w.PutBytes(binbuf.EncodeWide(h.ModulePath, 2*MaxModulePathChars)); err != nil {
		return nil, err
	}
	if err := w.PutUint32(uint32(len(units))); err != nil {
		return nil, err
	}
	for _, u := range units {
		if err := w.PutUint16(u); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeFileHeader validates and decodes a file header from data, which
// must hold at least the full declared header. It returns the header and
// its declared self-size.
func DecodeFileHeader(data []byte) (FileHeader, uint32, error) {
	var h FileHeader
	r := binbuf.NewReader(data)

	sig, err := r.ReadUint32()
	if err != nil {
		return h, 0, ErrTruncated
	}
	if sig != Signature {
		if sig == Signature32 {
			return h, 0, ErrPointerWidth
		}
		return h, 0, ErrBadSignature
	}

	headerSize, err := r.ReadUint32()
	if err != nil {
		return h, 0, ErrTruncated
	}
	if h.BlockSize, err = r.ReadUint32(); err != nil {
		return h, 0, ErrTruncated
	}
	if h.BlockSize < MinBlockSize || !IsPowerOfTwo(h.BlockSize) {
		return h, 0, ErrBadBlockSize
	}
	if h.ProcessID, err = r.ReadUint32(); err != nil {
		return h, 0, ErrTruncated
	}
	if h.Timestamp, err = r.ReadUint64(); err != nil {
		return h, 0, ErrTruncated
	}
	if h.ModuleBaseAddress, err = r.ReadUint64(); err != nil {
		return h, 0, ErrTruncated
	}
	if h.ModuleSize, err = r.ReadUint32(); err != nil {
		return h, 0, ErrTruncated
	}
	if h.ModuleChecksum, err = r.ReadUint32(); err != nil {
		return h, 0, ErrTruncated
	}
	if h.ModuleTimeDateStamp, err = r.ReadUint32(); err != nil {
		return h, 0, ErrTruncated
	}
	path, err := r.ReadBytes(2 * MaxModulePathChars)
	if err != nil {
		return h, 0, ErrTruncated
	}
	h.ModulePath = binbuf.DecodeWide(path)

	cmdLen, err := r.ReadUint32()
	if err != nil {
		return h, 0, ErrTruncated
	}
	if headerSize != FileHeaderFixedSize+2*cmdLen {
		return h, 0, ErrBadHeaderSize
	}
	units := make([]uint16, cmdLen)
	for i := range units {
		if units[i], err = r.ReadUint16(); err != nil {
			return h, 0, ErrTruncated
		}
	}
	h.CommandLine = string(utf16.Decode(units))
	return h, headerSize, nil
}
