// Package agent provides the public runtime API for the trace agent.
//
// This package implements the entry points called from instrumentation
// trampolines injected into the host process. The trampolines are fixed
// machine-code stubs, so the agent must be reachable through plain
// package-level functions; the process-wide Session behind them is a
// regular value installed by Start and torn down by the process-detach
// path of OnDllMain.
//
// Entry and exit hooks are CRITICAL HOT PATHS: they run once per traced
// call on the host's own threads. They take no locks beyond the session
// pointer load and the per-thread buffer they resolve to.
package agent

import (
	"sync/atomic"

	"go.uber.org/zap"

	internal "github.com/tracegrind/tracegrind/internal/agent"
	"github.com/tracegrind/tracegrind/internal/agent/tracebuffer"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// Re-exported types so instrumentation shims need only this package.
type (
	// Options configures the agent. See DefaultOptions.
	Options = internal.Options

	// Frame is the hook's view of the instrumented stack frame.
	Frame = tracebuffer.Frame

	// DllMainFrame carries the reason and module of a DllMain call.
	DllMainFrame = internal.DllMainFrame

	// Sink consumes finished trace segments.
	Sink = tracebuffer.Sink

	// Handle is the thread-liveness contract injectable via Options.
	Handle = internal.Handle
)

// DllMain reasons.
const (
	ReasonProcessDetach = internal.ReasonProcessDetach
	ReasonProcessAttach = internal.ReasonProcessAttach
	ReasonThreadAttach  = internal.ReasonThreadAttach
	ReasonThreadDetach  = internal.ReasonThreadDetach
)

// DefaultOptions returns the agent defaults: batch mode on, full-fidelity
// entries and exits off.
func DefaultOptions() Options {
	return internal.DefaultOptions()
}

// NewFileSink opens a trace file and writes its header block.
func NewFileSink(path string, header format.FileHeader) (*internal.FileSink, error) {
	return internal.NewFileSink(path, header)
}

// NewMemorySink collects the trace image in memory.
func NewMemorySink(header format.FileHeader) (*internal.MemorySink, error) {
	return internal.NewMemorySink(header)
}

// session is the process-wide agent instance. Nil until Start; hooks
// called without a session are no-ops so a host that loads the stubs
// before the agent does not crash.
var session atomic.Pointer[internal.Session]

// Start installs the process-wide session. A second Start is a no-op and
// reports false; the first session stays in place.
func Start(sink Sink, opts Options, log *zap.Logger) bool {
	next := internal.NewSession(sink, opts, log)
	return session.CompareAndSwap(nil, next)
}

// Stop flushes and removes the process-wide session. Trailing hook calls
// after Stop are no-ops.
func Stop() error {
	s := session.Swap(nil)
	if s == nil {
		return nil
	}
	return s.Flush()
}

// Session exposes the installed session, or nil. Test scaffolding only;
// trampolines use the package-level hooks.
func Session() *internal.Session {
	return session.Load()
}

// OnFunctionEntry records entry into an instrumented function.
func OnFunctionEntry(frame *Frame, function uint64) {
	if s := session.Load(); s != nil {
		s.OnFunctionEntry(frame, function)
	}
}

// OnFunctionExit records the return of the innermost diverted frame and
// returns the saved return address for the exit trampoline to jump to.
func OnFunctionExit(retValue uint64) uint64 {
	s := session.Load()
	if s == nil {
		return 0
	}
	return s.OnFunctionExit(retValue)
}

// OnExceptionUnwind discards shadow-stack entries invalidated by an
// exception that unwound the calling thread's native stack to depth.
func OnExceptionUnwind(depth int) {
	if s := session.Load(); s != nil {
		s.OnExceptionUnwind(depth)
	}
}

// OnBasicBlockEntry bumps the saturating hit counter of a basic block.
func OnBasicBlockEntry(blockAddr uint64) {
	if s := session.Load(); s != nil {
		s.OnBasicBlockEntry(blockAddr)
	}
}

// OnDllMain dispatches a DllMain notification to the session.
func OnDllMain(frame *DllMainFrame) {
	if s := session.Load(); s != nil {
		s.OnDllMain(frame)
	}
}

// WriteFunctionName publishes a function id to name binding.
func WriteFunctionName(id uint32, name string) error {
	s := session.Load()
	if s == nil {
		return nil
	}
	return s.WriteFunctionName(id, name)
}

// Flush drains every live thread buffer to the sink.
func Flush() error {
	s := session.Load()
	if s == nil {
		return nil
	}
	return s.Flush()
}
