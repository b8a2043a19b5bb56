package calltrace

import (
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tracegrind/tracegrind/internal/parse"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// ErrExitSurplus is returned by Verify when a (thread, function) pair has
// more exits than entries. The converse surplus is legal: an exception
// unwinding the native stack orphans shadow-stack entries without
// emitting exits for them.
var ErrExitSurplus = errors.New("calltrace: function exits exceed entries")

// CallKind distinguishes entries from exits in the ground output.
type CallKind uint8

const (
	CallEntry CallKind = iota
	CallExit
)

func (k CallKind) String() string {
	if k == CallExit {
		return "exit"
	}
	return "entry"
}

// Call is one ground call event.
type Call struct {
	Time     uint64
	ThreadID uint32
	Function uint64
	Kind     CallKind
}

// Grinder accumulates call events per process. It implements
// parse.EventHandler and is fed by driving a parser with it.
type Grinder struct {
	parse.NopHandler

	log   *zap.Logger
	calls map[uint32][]Call
}

// New builds an empty grinder. A nil logger is replaced by a nop.
func New(log *zap.Logger) *Grinder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Grinder{
		log:   log,
		calls: make(map[uint32][]Call),
	}
}

// OnFunctionEntry records a full-fidelity entry.
func (g *Grinder) OnFunctionEntry(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	g.calls[pid] = append(g.calls[pid], Call{
		Time:     time,
		ThreadID: tid,
		Function: ev.Function,
		Kind:     CallEntry,
	})
}

// OnFunctionExit records a full-fidelity exit.
func (g *Grinder) OnFunctionExit(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	g.calls[pid] = append(g.calls[pid], Call{
		Time:     time,
		ThreadID: tid,
		Function: ev.Function,
		Kind:     CallExit,
	})
}

// OnBatchFunctionEntry fans a batch out into one entry per aggregated
// call. The effective timestamp of call i is the segment time minus its
// ticks-ago offset, clamped at zero for clocks that wrapped mid-batch.
func (g *Grinder) OnBatchFunctionEntry(time uint64, pid, tid uint32, batch format.BatchEntry) {
	for _, c := range batch.Calls {
		when := uint64(0)
		if uint64(c.TicksAgo) <= time {
			when = time - uint64(c.TicksAgo)
		}
		g.calls[pid] = append(g.calls[pid], Call{
			Time:     when,
			ThreadID: batch.ThreadID,
			Function: c.Function,
			Kind:     CallEntry,
		})
	}
}

// Processes lists the process ids seen, ascending.
func (g *Grinder) Processes() []uint32 {
	pids := make([]uint32, 0, len(g.calls))
	for pid := range g.calls {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Calls returns the ground calls of one process, sorted by time with ties
// broken by thread id, then function address, then kind.
func (g *Grinder) Calls(pid uint32) []Call {
	sorted := append([]Call(nil), g.calls[pid]...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.ThreadID != b.ThreadID {
			return a.ThreadID < b.ThreadID
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Kind < b.Kind
	})
	return sorted
}

// Verify checks entry/exit consistency for one process: every
// (thread, function) pair may carry an entry surplus but never an exit
// surplus.
func (g *Grinder) Verify(pid uint32) error {
	type key struct {
		tid uint32
		fn  uint64
	}
	balance := make(map[key]int)
	for _, c := range g.calls[pid] {
		k := key{tid: c.ThreadID, fn: c.Function}
		if c.Kind == CallEntry {
			balance[k]++
		} else {
			balance[k]--
		}
	}
	for k, n := range balance {
		if n < 0 {
			return errors.Wrapf(ErrExitSurplus,
				"thread %d function %#x: %d unmatched exits", k.tid, k.fn, -n)
		}
		if n > 0 {
			g.log.Debug("entry surplus (exception orphaning)",
				zap.Uint32("thread_id", k.tid),
				zap.Uint64("function", k.fn),
				zap.Int("surplus", n))
		}
	}
	return nil
}

// WriteReport writes the ground timelines of every process to w.
func (g *Grinder) WriteReport(w io.Writer) error {
	for _, pid := range g.Processes() {
		calls := g.Calls(pid)
		if _, err := fmt.Fprintf(w, "process %d: %d calls\n", pid, len(calls)); err != nil {
			return errors.Wrap(err, "writing call report")
		}
		for _, c := range calls {
			_, err := fmt.Fprintf(w, "  [%d] thread %d %s 0x%016x\n",
				c.Time, c.ThreadID, c.Kind, c.Function)
			if err != nil {
				return errors.Wrap(err, "writing call report")
			}
		}
	}
	return nil
}
