//go:build linux

package threadstate

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ThreadHandle polls a native thread's liveness through signal 0.
//
// Once tgkill reports ESRCH the thread id is gone; the result is latched so
// a recycled tid cannot resurrect a dead handle.
type ThreadHandle struct {
	pid  int
	tid  int
	dead atomic.Bool
}

// NewThreadHandle builds a handle for the thread tid of process pid.
func NewThreadHandle(pid, tid int) *ThreadHandle {
	return &ThreadHandle{pid: pid, tid: tid}
}

// Terminated reports whether the thread has exited. Non-blocking.
func (h *ThreadHandle) Terminated() bool {
	if h.dead.Load() {
		return true
	}
	err := unix.Tgkill(h.pid, h.tid, 0)
	if err == unix.ESRCH {
		h.dead.Store(true)
		return true
	}
	return false
}
