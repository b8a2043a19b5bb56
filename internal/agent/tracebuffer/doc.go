// Package tracebuffer implements the per-thread binary segment buffer the
// agent hooks record into.
//
// Each instrumented thread owns one Buffer. All operations run on the
// owning thread, so the buffer needs no locking; only its registration with
// the thread-state manager is synchronized. A buffer accumulates event
// records into a block-aligned slab framed as one trace segment; Flush
// hands the finished segment to the collector sink and opens a fresh one.
//
// The buffer also owns the thread's shadow return stack: when exit tracing
// is enabled, every recorded entry pushes the caller's saved return address
// so the exit trampoline can restore it. Backtraces captured while
// diversion is active are repaired against that stack, restoring the
// illusion of an undisturbed call stack.
//
// Dropping is preferred over blocking: if an event does not fit even in a
// fresh segment, it is dropped with a rate-limited warning.
package tracebuffer
