//go:build linux

package faultread

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestReadWordsFromLiveMemory(t *testing.T) {
	args := [MaxWords]uint64{11, 22, 33, 44}
	addr := uint64(uintptr(unsafe.Pointer(&args[0])))

	got := ReadWords(addr, MaxWords)
	assert.Equal(t, args, got)
}

func TestReadWordsPartial(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:], 7)
	binary.LittleEndian.PutUint64(buf[8:], 9)
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))

	got := ReadWords(addr, 2)
	assert.Equal(t, Words{7, 9, 0, 0}, got)
}

// TestReadWordsFault probes an address that is almost certainly unmapped;
// the read must zero-fill rather than fault.
func TestReadWordsFault(t *testing.T) {
	got := ReadWords(0x10, MaxWords)
	assert.Equal(t, Words{}, got)
}

func TestReadWordsDegenerate(t *testing.T) {
	assert.Equal(t, Words{}, ReadWords(0, MaxWords))
	assert.Equal(t, Words{}, ReadWords(0x1000, 0))
}
