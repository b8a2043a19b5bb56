package threadstate

import "sync/atomic"

// ManualHandle is a Handle signaled explicitly. The agent uses it for
// goroutine-hosted threads with no pollable native id; tests use it to
// drive lifecycle deterministically.
type ManualHandle struct {
	dead atomic.Bool
}

// NewManualHandle returns an unsignaled handle.
func NewManualHandle() *ManualHandle {
	return &ManualHandle{}
}

// SignalTerminated marks the owning thread as gone.
func (h *ManualHandle) SignalTerminated() {
	h.dead.Store(true)
}

// Terminated reports whether SignalTerminated has been called.
func (h *ManualHandle) Terminated() bool {
	return h.dead.Load()
}
