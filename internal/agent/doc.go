// Package agent implements the runtime half of the toolchain: the session
// state linked into an instrumented process and the hook behaviors invoked
// by the generated entry/exit stubs.
//
// A Session owns the thread-state manager, the collector sink, and the
// tracing configuration. The three hook entry points are the behaviors
// behind the platform trampolines:
//
//	OnFunctionEntry   - batch and/or full-fidelity entry recording
//	OnFunctionExit    - exit recording; returns the real return address
//	OnDllMain         - module/thread/process attach and detach dispatch
//
// Hooks are re-entrant safe: they call nothing that can call back into
// instrumented code, and the only lock they can take is the thread-state
// manager's, and only while allocating or retiring a thread state.
package agent
