package agent

import (
	"github.com/tracegrind/tracegrind/internal/agent/faultread"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// Options configures a Session. The zero value records nothing; an agent
// enables batch entries, full entries, or both.
type Options struct {
	// BatchEntries aggregates low-overhead entry-only events.
	BatchEntries bool

	// TraceEntries records full-fidelity entry events.
	TraceEntries bool

	// TraceExits diverts returns through the exit trampoline and records
	// exit events. Requires TraceEntries.
	TraceExits bool

	// StackTraces captures a native backtrace on each full entry.
	StackTraces bool

	// ExitTrampoline is the address the stubs expose for return diversion.
	ExitTrampoline uint64

	// SegmentSize and BlockSize shape the per-thread buffers.
	SegmentSize int
	BlockSize   uint32

	// ThreadID identifies the calling native thread. Nil uses the
	// platform default (gettid on Linux).
	ThreadID func() uint32

	// ThreadHandle builds a liveness handle for the calling thread. Nil
	// uses the platform default.
	ThreadHandle func() Handle

	// CopyArgs reads caller argument words fault-tolerantly. Nil uses
	// faultread.ReadWords.
	CopyArgs func(addr uint64, n int) [format.NumArgWords]uint64

	// Backtrace captures the native stack, skipping the agent's frames.
	Backtrace func() []uint64

	// Now returns the current tick count. Nil uses wall nanoseconds.
	Now func() uint64

	// GetLastError and SetLastError save and restore the thread's
	// last-error word around hook bodies, keeping instrumentation
	// invisible to code that depends on it. Both nil disables the dance.
	GetLastError func() uint32
	SetLastError func(uint32)
}

// Handle aliases the thread-state liveness contract.
type Handle interface {
	Terminated() bool
}

// DefaultOptions returns the production configuration: batch entries on,
// platform thread identity, fault-tolerant argument copies.
func DefaultOptions() Options {
	return Options{
		BatchEntries: true,
		SegmentSize:  8 * format.DefaultBlockSize,
		BlockSize:    format.DefaultBlockSize,
		CopyArgs: func(addr uint64, n int) [format.NumArgWords]uint64 {
			return faultread.ReadWords(addr, n)
		},
	}
}
