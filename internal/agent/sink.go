package agent

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// FileSink is a collector endpoint writing the on-disk trace layout.
// ConsumeSegment calls are serialized internally, matching the transport
// contract the buffers rely on.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink creates path and writes the header block. The header's
// BlockSize must be set; segments are appended as produced.
func NewFileSink(path string, header format.FileHeader) (*FileSink, error) {
	if header.BlockSize < format.MinBlockSize || !format.IsPowerOfTwo(header.BlockSize) {
		return nil, format.ErrBadBlockSize
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating trace file")
	}
	if _, err := f.Write(headerBlock(header)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "writing trace header")
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) ConsumeSegment(segment []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.f.Write(segment)
	return errors.Wrap(err, "writing trace segment")
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MemorySink accumulates a complete trace image in memory. Tests and the
// loopback path use it to re-parse what the agent recorded.
type MemorySink struct {
	mu    sync.Mutex
	image []byte
}

// NewMemorySink lays down the header block of the image.
func NewMemorySink(header format.FileHeader) (*MemorySink, error) {
	if header.BlockSize < format.MinBlockSize || !format.IsPowerOfTwo(header.BlockSize) {
		return nil, format.ErrBadBlockSize
	}
	return &MemorySink{image: headerBlock(header)}, nil
}

func (s *MemorySink) ConsumeSegment(segment []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = append(s.image, segment...)
	return nil
}

// Bytes returns a copy of the accumulated trace image.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.image...)
}

// headerBlock encodes the header padded out to one block.
func headerBlock(header format.FileHeader) []byte {
	encoded, err := format.EncodeFileHeader(header)
	if err != nil {
		// The encoder only fails on its own sizing bug.
		panic(err)
	}
	blocks := (len(encoded) + int(header.BlockSize) - 1) / int(header.BlockSize)
	block := make([]byte, blocks*int(header.BlockSize))
	copy(block, encoded)
	return block
}
