package replay

import (
	"sync"
	"time"
)

// CausalLink is a manual-reset signaling primitive. It starts unsignaled;
// Signal releases every current and future waiter until Reset is called.
type CausalLink struct {
	mu       sync.Mutex
	done     chan struct{}
	signaled bool
}

// NewCausalLink returns an unsignaled link.
func NewCausalLink() *CausalLink {
	return &CausalLink{done: make(chan struct{})}
}

// Signal marks the link and unblocks all waiters. Signaling an already
// signaled link is a no-op.
func (l *CausalLink) Signal() {
	l.mu.Lock()
	if !l.signaled {
		l.signaled = true
		close(l.done)
	}
	l.mu.Unlock()
}

// Wait blocks until the link is signaled.
func (l *CausalLink) Wait() {
	<-l.channel()
}

// TimedWait blocks until the link is signaled or d elapses. It reports
// whether the link was signaled in time.
func (l *CausalLink) TimedWait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.channel():
		return true
	case <-timer.C:
		return false
	}
}

// IsSignaled is a non-blocking peek at the link state.
func (l *CausalLink) IsSignaled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signaled
}

// Reset returns a signaled link to the unsignaled state. Resetting an
// unsignaled link is a no-op.
func (l *CausalLink) Reset() {
	l.mu.Lock()
	if l.signaled {
		l.signaled = false
		l.done = make(chan struct{})
	}
	l.mu.Unlock()
}

// channel snapshots the current generation's channel so a concurrent
// Reset cannot strand a waiter on a channel that will never close.
func (l *CausalLink) channel() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
