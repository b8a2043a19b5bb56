package threadstate

import (
	"sync"

	"go.uber.org/zap"
)

// Manager owns every live thread state in the process.
//
// All list manipulation happens under one mutex with short critical
// sections (a single splice). Destruction of scavenged states runs outside
// the lock so a slow flush cannot stall other threads' registration.
type Manager struct {
	mu       sync.Mutex
	active   list
	deathRow list

	log *zap.Logger
}

// NewManager returns an empty manager. A nil logger is replaced by a nop.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log}
}

// Register places an unlinked state at the tail of the active list.
// Registering an already-linked state is a caller bug.
func (m *Manager) Register(s *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.linked() {
		panic("threadstate: Register of a linked state")
	}
	m.active.pushTail(s)
}

// Unregister removes the state from whichever list it is on, without
// destroying it. The caller reclaims ownership.
func (m *Manager) Unregister(s *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.owner != nil {
		s.owner.remove(s)
	}
}

// MarkForDeath retires the state of a detaching thread.
//
// It scavenges first: the caller runs on the thread being marked, whose
// handle cannot yet report terminated, so the fresh mark is never reclaimed
// by its own call. The state then moves to the head of death row.
func (m *Manager) MarkForDeath(s *State) {
	m.Scavenge()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.owner != nil {
		s.owner.remove(s)
	}
	m.deathRow.pushHead(s)
}

// Scavenge destroys every death-row state whose thread has terminated.
// Returns true while any state remains on either list.
func (m *Manager) Scavenge() bool {
	var dead []*State

	m.mu.Lock()
	for s := m.deathRow.head; s != nil; {
		next := s.next
		if s.handle.Terminated() {
			m.deathRow.remove(s)
			dead = append(dead, s)
		}
		s = next
	}
	remaining := m.active.size+m.deathRow.size > 0
	m.mu.Unlock()

	for _, s := range dead {
		if s.destroy != nil {
			s.destroy()
		}
	}
	return remaining
}

// ForEach runs fn on every state on either list, under the lock. Used at
// process detach to flush surviving buffers before teardown.
func (m *Manager) ForEach(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := m.active.head; s != nil; s = s.next {
		fn(s)
	}
	for s := m.deathRow.head; s != nil; s = s.next {
		fn(s)
	}
}

// Len returns the combined size of both lists.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.size + m.deathRow.size
}

// Shutdown scavenges, then forcibly destroys anything left.
//
// Remaining states mean threads were killed without detaching; that gets a
// warning. Calling Shutdown while any owning thread is still running is
// undefined and is the caller's responsibility to avoid.
func (m *Manager) Shutdown() {
	m.Scavenge()

	m.mu.Lock()
	var leaked []*State
	for s := m.active.head; s != nil; {
		next := s.next
		m.active.remove(s)
		leaked = append(leaked, s)
		s = next
	}
	for s := m.deathRow.head; s != nil; {
		next := s.next
		m.deathRow.remove(s)
		leaked = append(leaked, s)
		s = next
	}
	m.mu.Unlock()

	if len(leaked) > 0 {
		m.log.Warn("destroying thread states of threads that never detached",
			zap.Int("count", len(leaked)))
	}
	for _, s := range leaked {
		if s.destroy != nil {
			s.destroy()
		}
	}
}
