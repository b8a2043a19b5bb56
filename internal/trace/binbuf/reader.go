package binbuf

// Reader layers a cursor on top of a Parser.
//
// Successful reads advance the cursor by exactly the number of bytes read;
// failed reads leave it where it was. Align rounds the cursor up to the next
// multiple of a power of two, which is how segment bodies and trace blocks
// are walked.
type Reader struct {
	p   Parser
	pos int
}

// NewReader wraps data without copying it. The cursor starts at zero.
func NewReader(data []byte) *Reader {
	return &Reader{p: NewParser(data)}
}

// Pos returns the current cursor position.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return r.p.Len() - r.pos
}

// Empty reports whether the cursor has reached the end.
func (r *Reader) Empty() bool {
	return r.Remaining() == 0
}

// Consume advances the cursor by n bytes.
func (r *Reader) Consume(n int) error {
	if !r.p.Contains(r.pos, n) {
		return ErrShortBuffer
	}
	r.pos += n
	return nil
}

// Align advances the cursor to the next multiple of n, where n must be a
// power of two. Idempotent: aligning an already-aligned cursor is a no-op.
func (r *Reader) Align(n int) error {
	if n <= 0 || n&(n-1) != 0 {
		return ErrBadAlignment
	}
	next := (r.pos + n - 1) &^ (n - 1)
	if !r.p.Contains(next, 0) {
		return ErrShortBuffer
	}
	r.pos = next
	return nil
}

// Aligned reports whether the cursor sits on a multiple of n.
func (r *Reader) Aligned(n int) bool {
	return n > 0 && n&(n-1) == 0 && r.pos&(n-1) == 0
}

// PeekUint16 reads a uint16 without moving the cursor.
func (r *Reader) PeekUint16() (uint16, error) {
	return r.p.GetUint16At(r.pos)
}

// ReadUint8 reads one byte and advances.
func (r *Reader) ReadUint8() (uint8, error) {
	v, err := r.p.GetUint8At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos++
	return v, nil
}

// ReadUint16 reads a uint16 and advances.
func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.p.GetUint16At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a uint32 and advances.
func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.p.GetUint32At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 4
	return v, nil
}

// ReadUint64 reads a uint64 and advances.
func (r *Reader) ReadUint64() (uint64, error) {
	v, err := r.p.GetUint64At(r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += 8
	return v, nil
}

// ReadPointer reads an address field and advances.
func (r *Reader) ReadPointer() (uint64, error) {
	return r.ReadUint64()
}

// ReadBytes returns a view of the next n bytes and advances.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.p.GetAt(r.pos, n)
	if err != nil {
		return nil, err
	}
	r.pos += n
	return b, nil
}

// ReadZString reads a NUL-terminated narrow string and advances past the
// terminator.
func (r *Reader) ReadZString() (string, error) {
	b, err := r.p.GetZBytesAt(r.pos)
	if err != nil {
		return "", err
	}
	r.pos += len(b) + 1
	return string(b), nil
}

// ReadZWString reads a NUL-terminated UTF-16LE string and advances past the
// two-byte terminator.
func (r *Reader) ReadZWString() (string, error) {
	s, err := r.p.GetZWStringAt(r.pos)
	if err != nil {
		return "", err
	}
	// Advance past the code units plus terminator by rescanning for the
	// terminator; the decode above already validated it exists.
	at := r.pos
	for {
		u, _ := r.p.GetUint16At(at)
		at += 2
		if u == 0 {
			break
		}
	}
	r.pos = at
	return s, nil
}
