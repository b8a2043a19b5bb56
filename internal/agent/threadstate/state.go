package threadstate

// Handle exposes the liveness of a native thread. Terminated is a
// non-blocking poll; once it reports true it must keep reporting true.
type Handle interface {
	Terminated() bool
}

// State is one thread's entry in the manager. It embeds its own list
// linkage so that moving between lists is O(1) and allocation-free.
//
// The agent stores its per-thread resources behind Destroy: the closure
// flushes the thread's trace buffer and releases it. Destroy runs exactly
// once, off the manager lock.
type State struct {
	prev, next *State
	owner      *list

	threadID uint32
	handle   Handle
	destroy  func()
}

// NewState builds an unlinked state for the given thread.
func NewState(threadID uint32, h Handle, destroy func()) *State {
	return &State{threadID: threadID, handle: h, destroy: destroy}
}

// ThreadID returns the owning thread's id.
func (s *State) ThreadID() uint32 {
	return s.threadID
}

func (s *State) linked() bool {
	return s.owner != nil
}

// list is a minimal intrusive doubly-linked list with a sentinel-free
// head/tail representation.
type list struct {
	head, tail *State
	size       int
}

func (l *list) pushTail(s *State) {
	s.owner = l
	s.prev = l.tail
	s.next = nil
	if l.tail != nil {
		l.tail.next = s
	} else {
		l.head = s
	}
	l.tail = s
	l.size++
}

func (l *list) pushHead(s *State) {
	s.owner = l
	s.next = l.head
	s.prev = nil
	if l.head != nil {
		l.head.prev = s
	} else {
		l.tail = s
	}
	l.head = s
	l.size++
}

func (l *list) remove(s *State) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next, s.owner = nil, nil, nil
	l.size--
}
