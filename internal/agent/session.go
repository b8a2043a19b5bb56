package agent

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracegrind/tracegrind/internal/agent/threadstate"
	"github.com/tracegrind/tracegrind/internal/agent/tracebuffer"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// DllMain reasons, as delivered in the frame's reason argument.
const (
	ReasonProcessDetach uint32 = 0
	ReasonProcessAttach uint32 = 1
	ReasonThreadAttach  uint32 = 2
	ReasonThreadDetach  uint32 = 3
)

// DllMainFrame is the hook's view of a DllMain invocation.
type DllMainFrame struct {
	Reason uint32
	Module format.ModuleInfo
}

// Session is the process-wide agent state.
//
// The instance is a plain value reachable through one well-defined symbol
// on the trampoline side; all collaborators are explicit fields, never
// hidden globals. Per-thread buffers hang off a registry keyed by native
// thread id, allocated lazily on the first trace operation by a thread.
type Session struct {
	opts Options
	log  *zap.Logger
	sink tracebuffer.Sink
	mgr  *threadstate.Manager

	// id names this recording in collector logs.
	id uuid.UUID

	// threads maps thread id -> *threadRecord. Reads dominate: one lookup
	// per hook invocation, writes only when a thread first traces.
	threads sync.Map

	// blocks holds the basic-block saturation counters, keyed by block
	// address. Values are *blockCounter.
	blocks sync.Map

	connected bool
	mu        sync.Mutex
}

type threadRecord struct {
	state *threadstate.State
	buf   *tracebuffer.Buffer
}

// blockCounter is a saturating hit counter for one basic block. Owned by
// whichever threads execute the block; increments race benignly toward the
// cap in the original, here they serialize through a mutex kept tiny.
type blockCounter struct {
	mu   sync.Mutex
	hits uint32
}

const blockCounterMax = ^uint32(0)

// NewSession builds a session around a segment sink. A nil logger is
// replaced by a nop.
func NewSession(sink tracebuffer.Sink, opts Options, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		opts: opts,
		log:  log,
		sink: sink,
		mgr:  threadstate.NewManager(log),
		id:   uuid.New(),
	}
}

// ID returns the session identity used in collector logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Manager exposes the thread-state manager (tests and teardown paths).
func (s *Session) Manager() *threadstate.Manager {
	return s.mgr
}

// currentThread returns the calling thread's record, allocating it on the
// thread's first trace operation.
func (s *Session) currentThread() *threadRecord {
	tid := s.threadID()
	if rec, ok := s.threads.Load(tid); ok {
		return rec.(*threadRecord)
	}

	buf := tracebuffer.New(tid, s.sink, tracebuffer.Options{
		SegmentSize:    s.opts.SegmentSize,
		BlockSize:      s.opts.BlockSize,
		TraceExits:     s.opts.TraceExits,
		StackTraces:    s.opts.StackTraces,
		ExitTrampoline: s.opts.ExitTrampoline,
		CopyArgs:       s.opts.CopyArgs,
		Backtrace:      s.opts.Backtrace,
		Now:            s.opts.Now,
	}, s.log)

	rec := &threadRecord{buf: buf}
	rec.state = threadstate.NewState(tid, s.threadHandle(), func() {
		if err := buf.Flush(); err != nil {
			s.log.Warn("flush on thread teardown failed", zap.Error(err))
		}
		s.threads.Delete(tid)
	})

	actual, loaded := s.threads.LoadOrStore(tid, rec)
	if loaded {
		return actual.(*threadRecord)
	}
	s.mgr.Register(rec.state)
	return rec
}

func (s *Session) threadID() uint32 {
	if s.opts.ThreadID != nil {
		return s.opts.ThreadID()
	}
	return platformThreadID()
}

func (s *Session) threadHandle() threadstate.Handle {
	if s.opts.ThreadHandle != nil {
		return s.opts.ThreadHandle()
	}
	return platformThreadHandle()
}

// lastErrorGuard saves the thread's last-error word and returns the
// restore closure, keeping the hooks invisible to surrounding code.
func (s *Session) lastErrorGuard() func() {
	if s.opts.GetLastError == nil || s.opts.SetLastError == nil {
		return func() {}
	}
	saved := s.opts.GetLastError()
	return func() { s.opts.SetLastError(saved) }
}

// OnFunctionEntry is the behavior behind the entry stub. Both batch and
// full-fidelity recording may run for one call.
func (s *Session) OnFunctionEntry(frame *tracebuffer.Frame, function uint64) {
	defer s.lastErrorGuard()()

	rec := s.currentThread()
	if s.opts.BatchEntries {
		if err := rec.buf.RecordBatch(function); err != nil {
			s.log.Warn("batch entry dropped", zap.Error(err))
		}
	}
	if s.opts.TraceEntries {
		if err := rec.buf.RecordEntry(frame, function); err != nil {
			s.log.Warn("entry event dropped", zap.Error(err))
		}
	}
}

// OnFunctionExit is the behavior behind the exit trampoline. It returns
// the saved return address the trampoline resumes.
//
// A call with an empty shadow stack panics: the caller has returned more
// times than it entered and the real return address is unrecoverable.
func (s *Session) OnFunctionExit(retValue uint64) uint64 {
	defer s.lastErrorGuard()()

	rec := s.currentThread()
	ret, err := rec.buf.RecordExit(retValue)
	if err != nil {
		if err == tracebuffer.ErrShadowStackUnderflow {
			s.log.Error("shadow stack underflow; aborting",
				zap.Uint32("thread_id", rec.buf.ThreadID()))
			panic(err)
		}
		s.log.Warn("exit event dropped", zap.Error(err))
	}
	return ret
}

// OnExceptionUnwind discards the calling thread's shadow-stack entries
// above depth. An exception that unwound the native stack invalidated
// those frames without emitting exits.
func (s *Session) OnExceptionUnwind(depth int) {
	defer s.lastErrorGuard()()
	s.currentThread().buf.UnwindTo(depth)
}

// OnBasicBlockEntry bumps the saturating hit counter of a basic block.
func (s *Session) OnBasicBlockEntry(blockAddr uint64) {
	v, _ := s.blocks.LoadOrStore(blockAddr, &blockCounter{})
	c := v.(*blockCounter)
	c.mu.Lock()
	if c.hits < blockCounterMax {
		c.hits++
	}
	c.mu.Unlock()
}

// BlockHits returns the saturation counter of a basic block.
func (s *Session) BlockHits(blockAddr uint64) uint32 {
	v, ok := s.blocks.Load(blockAddr)
	if !ok {
		return 0
	}
	c := v.(*blockCounter)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// OnDllMain dispatches module lifecycle notifications.
func (s *Session) OnDllMain(frame *DllMainFrame) {
	defer s.lastErrorGuard()()

	switch frame.Reason {
	case ReasonProcessAttach:
		s.onProcessAttach(frame.Module)
	case ReasonProcessDetach:
		s.onProcessDetach(frame.Module)
	case ReasonThreadAttach:
		s.onThreadAttach(frame.Module)
	case ReasonThreadDetach:
		s.onThreadDetach(frame.Module)
	}
}

// onProcessAttach performs the session handshake and announces the module.
func (s *Session) onProcessAttach(m format.ModuleInfo) {
	s.mu.Lock()
	first := !s.connected
	s.connected = true
	s.mu.Unlock()
	if first {
		s.log.Info("trace session connected",
			zap.String("session_id", s.id.String()),
			zap.String("module", m.ModuleName))
	}

	rec := s.currentThread()
	if err := rec.buf.WriteModuleEvent(format.KindModuleAttach, m); err != nil {
		s.log.Warn("module attach event dropped", zap.Error(err))
	}
}

func (s *Session) onThreadAttach(m format.ModuleInfo) {
	rec := s.currentThread()
	if err := rec.buf.WriteModuleEvent(format.KindThreadAttach, m); err != nil {
		s.log.Warn("thread attach event dropped", zap.Error(err))
	}
}

// onThreadDetach records the detach, flushes the thread's buffer, and
// parks its state on death row.
func (s *Session) onThreadDetach(m format.ModuleInfo) {
	rec := s.currentThread()
	if err := rec.buf.WriteModuleEvent(format.KindThreadDetach, m); err != nil {
		s.log.Warn("thread detach event dropped", zap.Error(err))
	}
	if err := rec.buf.Flush(); err != nil {
		s.log.Warn("flush on thread detach failed", zap.Error(err))
	}
	s.mgr.MarkForDeath(rec.state)
}

// onProcessDetach flushes every surviving thread state, then disconnects.
func (s *Session) onProcessDetach(m format.ModuleInfo) {
	rec := s.currentThread()
	if err := rec.buf.WriteModuleEvent(format.KindModuleDetach, m); err != nil {
		s.log.Warn("module detach event dropped", zap.Error(err))
	}

	s.mgr.ForEach(func(st *threadstate.State) {
		if v, ok := s.threads.Load(st.ThreadID()); ok {
			if err := v.(*threadRecord).buf.Flush(); err != nil {
				s.log.Warn("flush at process detach failed",
					zap.Uint32("thread_id", st.ThreadID()), zap.Error(err))
			}
		}
	})
	s.mgr.Shutdown()

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.log.Info("trace session disconnected", zap.String("session_id", s.id.String()))
}

// WriteFunctionName publishes a function-id binding through the calling
// thread's buffer. The hardening agent uses it to name its heap shims.
func (s *Session) WriteFunctionName(id uint32, name string) error {
	return s.currentThread().buf.WriteFunctionName(format.FunctionNameEntry{
		FunctionID: id,
		Name:       name,
	})
}

// Flush forces the calling thread's segment out. Mostly for tests and for
// the process-detach path of hosts without DllMain notifications.
func (s *Session) Flush() error {
	return s.currentThread().buf.Flush()
}
