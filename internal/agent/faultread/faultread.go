// Package faultread copies caller argument words without trusting the
// frame to be fully mapped.
//
// The entry hook reads up to four words from the caller's argument area; a
// short stack frame can end before them. The contract is "try to read up
// to N words; treat a memory fault as a successful zero-fill" so tracing
// never corrupts the agent. On Linux the probe goes through
// process_vm_readv against the agent's own process: the kernel performs
// the access and reports a fault as a short read instead of delivering a
// signal.
package faultread

import (
	"encoding/binary"

	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
)

// MaxWords is the most words a single read probes.
const MaxWords = 4

// Words is the result of a probe. Slots past the faulting point are zero.
type Words = [MaxWords]uint64

// ReadWords copies up to n words (n <= MaxWords) from addr, zero-filling
// anything unreadable. Total: it never fails and never faults.
func ReadWords(addr uint64, n int) Words {
	var out Words
	if addr == 0 || n <= 0 {
		return out
	}
	if n > MaxWords {
		n = MaxWords
	}
	buf := make([]byte, n*binbuf.PointerSize)
	got := probe(addr, buf)
	for i := 0; i < got/binbuf.PointerSize; i++ {
		out[i] = binary.LittleEndian.Uint64(buf[i*binbuf.PointerSize:])
	}
	return out
}
