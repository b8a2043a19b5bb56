package binbuf

import "encoding/binary"

// Writer is the encoding counterpart of Reader over a fixed-capacity slice.
//
// It never grows the underlying buffer: a write past the end fails with
// ErrShortBuffer and leaves the cursor untouched. The trace buffer reserves
// record-sized regions through it, so the sum of bytes successfully written
// always equals the sum of bytes reserved.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter wraps buf without copying it. The cursor starts at zero.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Pos returns the current cursor position.
func (w *Writer) Pos() int {
	return w.pos
}

// Remaining returns the writable bytes left.
func (w *Writer) Remaining() int {
	return len(w.buf) - w.pos
}

// Bytes returns the written prefix of the buffer.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.pos]
}

func (w *Writer) contains(n int) bool {
	return n >= 0 && w.pos+n <= len(w.buf)
}

// Reserve returns a mutable view of the next n bytes and advances.
func (w *Writer) Reserve(n int) ([]byte, error) {
	if !w.contains(n) {
		return nil, ErrShortBuffer
	}
	b := w.buf[w.pos : w.pos+n]
	w.pos += n
	return b, nil
}

// PutUint8 writes one byte and advances.
func (w *Writer) PutUint8(v uint8) error {
	if !w.contains(1) {
		return ErrShortBuffer
	}
	w.buf[w.pos] = v
	w.pos++
	return nil
}

// PutUint16 writes a little-endian uint16 and advances.
func (w *Writer) PutUint16(v uint16) error {
	if !w.contains(2) {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
	return nil
}

// PutUint32 writes a little-endian uint32 and advances.
func (w *Writer) PutUint32(v uint32) error {
	if !w.contains(4) {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
	return nil
}

// PutUint64 writes a little-endian uint64 and advances.
func (w *Writer) PutUint64(v uint64) error {
	if !w.contains(8) {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
	return nil
}

// PutPointer writes an address field and advances.
func (w *Writer) PutPointer(v uint64) error {
	return w.PutUint64(v)
}

// PutBytes copies b into the buffer and advances.
func (w *Writer) PutBytes(b []byte) error {
	if !w.contains(len(b)) {
		return ErrShortBuffer
	}
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
	return nil
}

// AlignZero advances the cursor to the next multiple of n, writing zero
// bytes over the skipped gap. n must be a power of two.
func (w *Writer) AlignZero(n int) error {
	if n <= 0 || n&(n-1) != 0 {
		return ErrBadAlignment
	}
	next := (w.pos + n - 1) &^ (n - 1)
	if next > len(w.buf) {
		return ErrShortBuffer
	}
	for i := w.pos; i < next; i++ {
		w.buf[i] = 0
	}
	w.pos = next
	return nil
}
