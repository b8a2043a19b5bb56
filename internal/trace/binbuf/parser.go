package binbuf

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
)

// PointerSize is the width in bytes of an address field in the trace format.
// Readers refuse files whose declared pointer width does not match.
const PointerSize = 8

var (
	// ErrShortBuffer is returned when a read or write would extend past the
	// end of the underlying bytes.
	ErrShortBuffer = errors.New("binbuf: request straddles end of buffer")

	// ErrBadAlignment is returned when an alignment argument is not a
	// power of two.
	ErrBadAlignment = errors.New("binbuf: alignment is not a power of two")

	// ErrUnterminatedString is returned when a zero-terminated string read
	// reaches the end of the buffer before a terminator.
	ErrUnterminatedString = errors.New("binbuf: string is not zero-terminated")
)

// Parser provides bounds-checked random-access reads over a byte slice.
//
// Every Get* method validates the requested range before touching the data
// and returns a view borrowed from the underlying slice, never a copy.
// A zero Parser is an empty buffer; all reads on it fail.
type Parser struct {
	data []byte
}

// NewParser wraps data without copying it.
func NewParser(data []byte) Parser {
	return Parser{data: data}
}

// Len returns the total length of the underlying bytes.
func (p Parser) Len() int {
	return len(p.data)
}

// Contains reports whether [pos, pos+n) lies entirely inside the buffer.
// A negative pos or n never satisfies it.
func (p Parser) Contains(pos, n int) bool {
	if pos < 0 || n < 0 {
		return false
	}
	return pos+n >= pos && pos+n <= len(p.data)
}

// GetAt returns the n bytes at pos as a view into the underlying slice.
func (p Parser) GetAt(pos, n int) ([]byte, error) {
	if !p.Contains(pos, n) {
		return nil, ErrShortBuffer
	}
	return p.data[pos : pos+n], nil
}

// GetUint8At reads one byte at pos.
func (p Parser) GetUint8At(pos int) (uint8, error) {
	if !p.Contains(pos, 1) {
		return 0, ErrShortBuffer
	}
	return p.data[pos], nil
}

// GetUint16At reads a little-endian uint16 at pos.
func (p Parser) GetUint16At(pos int) (uint16, error) {
	if !p.Contains(pos, 2) {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint16(p.data[pos:]), nil
}

// GetUint32At reads a little-endian uint32 at pos.
func (p Parser) GetUint32At(pos int) (uint32, error) {
	if !p.Contains(pos, 4) {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(p.data[pos:]), nil
}

// GetUint64At reads a little-endian uint64 at pos.
func (p Parser) GetUint64At(pos int) (uint64, error) {
	if !p.Contains(pos, 8) {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint64(p.data[pos:]), nil
}

// GetPointerAt reads an address field at pos.
func (p Parser) GetPointerAt(pos int) (uint64, error) {
	return p.GetUint64At(pos)
}

// GetZBytesAt returns the bytes at pos up to (not including) the first NUL,
// as a view into the underlying slice.
func (p Parser) GetZBytesAt(pos int) ([]byte, error) {
	if !p.Contains(pos, 0) {
		return nil, ErrShortBuffer
	}
	for end := pos; end < len(p.data); end++ {
		if p.data[end] == 0 {
			return p.data[pos:end], nil
		}
	}
	return nil, ErrUnterminatedString
}

// GetZStringAt reads a NUL-terminated narrow string at pos.
func (p Parser) GetZStringAt(pos int) (string, error) {
	b, err := p.GetZBytesAt(pos)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetZWStringAt reads a NUL-terminated UTF-16LE string at pos and decodes
// it to a Go string. This is the only Parser read that allocates.
func (p Parser) GetZWStringAt(pos int) (string, error) {
	if !p.Contains(pos, 0) {
		return "", ErrShortBuffer
	}
	var units []uint16
	for at := pos; ; at += 2 {
		if !p.Contains(at, 2) {
			return "", ErrUnterminatedString
		}
		u := binary.LittleEndian.Uint16(p.data[at:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), nil
}

// DecodeWide decodes a fixed-size UTF-16LE field, stopping at the first NUL
// code unit. Used for the fixed wide-char path buffers in module records.
func DecodeWide(field []byte) string {
	units := make([]uint16, 0, len(field)/2)
	for at := 0; at+2 <= len(field); at += 2 {
		u := binary.LittleEndian.Uint16(field[at:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// EncodeWide encodes s as UTF-16LE into a field of size bytes, truncating
// if needed and leaving at least one NUL terminator.
func EncodeWide(s string, size int) []byte {
	field := make([]byte, size)
	units := utf16.Encode([]rune(s))
	max := size/2 - 1
	if len(units) > max {
		units = units[:max]
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(field[i*2:], u)
	}
	return field
}
