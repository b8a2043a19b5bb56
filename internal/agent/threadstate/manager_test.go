package threadstate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUnregister(t *testing.T) {
	m := NewManager(nil)
	s := NewState(1, NewManualHandle(), nil)

	m.Register(s)
	assert.Equal(t, 1, m.Len())

	m.Unregister(s)
	assert.Equal(t, 0, m.Len())
	assert.False(t, s.linked())

	// Unregister of an unlinked state is a no-op.
	m.Unregister(s)
	assert.Equal(t, 0, m.Len())
}

func TestRegisterLinkedPanics(t *testing.T) {
	m := NewManager(nil)
	s := NewState(1, NewManualHandle(), nil)
	m.Register(s)
	assert.Panics(t, func() { m.Register(s) })
}

// TestMarkForDeathNotScavengedByOwnCall checks the ordering contract: a
// just-marked state survives the scavenge its own MarkForDeath performs,
// because the owning thread's handle is not yet signaled.
func TestMarkForDeathNotScavengedByOwnCall(t *testing.T) {
	m := NewManager(nil)
	destroyed := false
	h := NewManualHandle()
	s := NewState(7, h, func() { destroyed = true })

	m.Register(s)
	m.MarkForDeath(s)
	assert.False(t, destroyed)
	assert.Equal(t, 1, m.Len())

	// Once the thread is observed terminated, scavenge reclaims it.
	h.SignalTerminated()
	remaining := m.Scavenge()
	assert.True(t, destroyed)
	assert.False(t, remaining)
}

func TestScavengeReclaimsOnlyTerminated(t *testing.T) {
	m := NewManager(nil)
	var destroyed []uint32
	handles := make([]*ManualHandle, 3)
	for i := range handles {
		handles[i] = NewManualHandle()
		tid := uint32(i)
		s := NewState(tid, handles[i], func() { destroyed = append(destroyed, tid) })
		m.Register(s)
		m.MarkForDeath(s)
	}

	handles[1].SignalTerminated()
	remaining := m.Scavenge()
	assert.True(t, remaining)
	assert.Equal(t, []uint32{1}, destroyed)
	assert.Equal(t, 2, m.Len())
}

func TestShutdownDestroysLeaked(t *testing.T) {
	m := NewManager(nil)
	destroyed := 0
	active := NewState(1, NewManualHandle(), func() { destroyed++ })
	parked := NewState(2, NewManualHandle(), func() { destroyed++ })

	m.Register(active)
	m.Register(parked)
	m.MarkForDeath(parked)

	m.Shutdown()
	assert.Equal(t, 2, destroyed)
	assert.Equal(t, 0, m.Len())
}

func TestForEachCoversBothLists(t *testing.T) {
	m := NewManager(nil)
	a := NewState(1, NewManualHandle(), nil)
	b := NewState(2, NewManualHandle(), nil)
	m.Register(a)
	m.Register(b)
	m.MarkForDeath(b)

	var seen []uint32
	m.ForEach(func(s *State) { seen = append(seen, s.ThreadID()) })
	assert.ElementsMatch(t, []uint32{1, 2}, seen)
}

// TestConcurrentRegistration exercises the single-mutex lists from many
// goroutines; the race detector is the real assertion here.
func TestConcurrentRegistration(t *testing.T) {
	m := NewManager(nil)
	const workers = 16

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(tid uint32) {
			defer wg.Done()
			h := NewManualHandle()
			s := NewState(tid, h, nil)
			m.Register(s)
			m.MarkForDeath(s)
			h.SignalTerminated()
			m.Scavenge()
		}(uint32(i))
	}
	wg.Wait()

	for m.Scavenge() {
	}
	require.Equal(t, 0, m.Len())
}
