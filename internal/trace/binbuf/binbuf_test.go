package binbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParserContains tests the bounds predicate on edge ranges.
func TestParserContains(t *testing.T) {
	p := NewParser(make([]byte, 8))

	tests := []struct {
		name string
		pos  int
		n    int
		want bool
	}{
		{name: "whole buffer", pos: 0, n: 8, want: true},
		{name: "empty range at end", pos: 8, n: 0, want: true},
		{name: "one past end", pos: 8, n: 1, want: false},
		{name: "straddles end", pos: 6, n: 4, want: false},
		{name: "negative pos", pos: -1, n: 2, want: false},
		{name: "negative len", pos: 0, n: -1, want: false},
		{name: "overflowing sum", pos: 4, n: int(^uint(0) >> 1), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Contains(tt.pos, tt.n))
		})
	}
}

func TestParserTypedReads(t *testing.T) {
	p := NewParser([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})

	v16, err := p.GetUint16At(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), v16)

	v32, err := p.GetUint32At(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x06050403), v32)

	v64, err := p.GetUint64At(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0807060504030201), v64)

	_, err = p.GetUint64At(1)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestParserZStrings(t *testing.T) {
	p := NewParser([]byte{'a', 'b', 'c', 0, 'x'})

	s, err := p.GetZStringAt(0)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	// No terminator before end of buffer.
	_, err = p.GetZStringAt(4)
	assert.ErrorIs(t, err, ErrUnterminatedString)
}

func TestParserZWString(t *testing.T) {
	p := NewParser([]byte{'h', 0, 'i', 0, 0, 0})
	s, err := p.GetZWStringAt(0)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)

	// Odd tail with no terminator.
	p = NewParser([]byte{'h', 0, 'i'})
	_, err = p.GetZWStringAt(0)
	assert.ErrorIs(t, err, ErrUnterminatedString)
}

// TestReaderAdvance verifies that every successful read advances the cursor
// by exactly the size of the value read.
func TestReaderAdvance(t *testing.T) {
	r := NewReader(make([]byte, 32))

	_, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pos())

	_, err = r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, 3, r.Pos())

	_, err = r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, 7, r.Pos())

	_, err = r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, 15, r.Pos())

	_, err = r.ReadPointer()
	require.NoError(t, err)
	assert.Equal(t, 15+PointerSize, r.Pos())
}

// TestReaderAlign verifies idempotence and the post-condition pos % n == 0.
func TestReaderAlign(t *testing.T) {
	r := NewReader(make([]byte, 64))
	require.NoError(t, r.Consume(3))

	require.NoError(t, r.Align(8))
	assert.Equal(t, 8, r.Pos())
	assert.Zero(t, r.Pos()%8)

	// Idempotent on an already-aligned cursor.
	require.NoError(t, r.Align(8))
	assert.Equal(t, 8, r.Pos())

	assert.ErrorIs(t, r.Align(12), ErrBadAlignment)
	assert.ErrorIs(t, r.Align(0), ErrBadAlignment)

}

// TestReaderAlignPastEnd verifies a failed align leaves the cursor in place.
func TestReaderAlignPastEnd(t *testing.T) {
	r := NewReader(make([]byte, 65))
	require.NoError(t, r.Consume(65))
	assert.ErrorIs(t, r.Align(128), ErrShortBuffer)
	assert.Equal(t, 65, r.Pos())
}

func TestReaderPeekDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{0x34, 0x12})
	v, err := r.PeekUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
	assert.Zero(t, r.Pos())
}

func TestReaderZWString(t *testing.T) {
	r := NewReader([]byte{'o', 0, 'k', 0, 0, 0, 0xFF})
	s, err := r.ReadZWString()
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
	assert.Equal(t, 6, r.Pos())
}

func TestWriterRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf)
	require.NoError(t, w.PutUint16(0xBEEF))
	require.NoError(t, w.PutUint32(0xDEADBEEF))
	require.NoError(t, w.PutPointer(0x1122334455667788))
	require.NoError(t, w.AlignZero(16))
	assert.Equal(t, 16, w.Pos())

	r := NewReader(w.Bytes())
	v16, _ := r.ReadUint16()
	v32, _ := r.ReadUint32()
	v64, _ := r.ReadPointer()
	assert.Equal(t, uint16(0xBEEF), v16)
	assert.Equal(t, uint32(0xDEADBEEF), v32)
	assert.Equal(t, uint64(0x1122334455667788), v64)
}

func TestWriterOverflow(t *testing.T) {
	w := NewWriter(make([]byte, 3))
	require.NoError(t, w.PutUint16(1))
	assert.ErrorIs(t, w.PutUint16(2), ErrShortBuffer)
	// Failed write leaves the cursor untouched.
	assert.Equal(t, 2, w.Pos())
}

func TestWideFieldCodec(t *testing.T) {
	field := EncodeWide("agent.dll", 64)
	assert.Len(t, field, 64)
	assert.Equal(t, "agent.dll", DecodeWide(field))

	// Truncation keeps the terminator.
	field = EncodeWide("abcdef", 8)
	assert.Equal(t, "abc", DecodeWide(field))
}
