package memreplay

import (
	"go.uber.org/zap"

	"github.com/tracegrind/tracegrind/internal/parse"
	"github.com/tracegrind/tracegrind/internal/replay"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// EventKind classifies a traced heap-API function.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventHeapCreate
	EventHeapDestroy
	EventHeapAlloc
	EventHeapReAlloc
	EventHeapFree
	EventHeapSize
	EventHeapSetInformation
	EventGetProcessHeap
)

// eventNames is the fixed vocabulary the instrumented heap shims report
// through the function-name table.
var eventNames = map[string]EventKind{
	"asan_HeapCreate":         EventHeapCreate,
	"asan_HeapDestroy":        EventHeapDestroy,
	"asan_HeapAlloc":          EventHeapAlloc,
	"asan_HeapReAlloc":        EventHeapReAlloc,
	"asan_HeapFree":           EventHeapFree,
	"asan_HeapSize":           EventHeapSize,
	"asan_HeapSetInformation": EventHeapSetInformation,
	"asan_GetProcessHeap":     EventGetProcessHeap,
}

// MissingEvent records a function-name-table entry naming a function this
// grinder has no event type for.
type MissingEvent struct {
	ProcessID  uint32
	FunctionID uint32
	Name       string
}

// pendingCall is an entry awaiting its exit; the exit's return value
// completes the event.
type pendingCall struct {
	kind EventKind
	args [format.NumArgWords]uint64
}

type threadState struct {
	line    int
	events  []replay.Event
	pending []pendingCall
}

type processState struct {
	kinds       map[uint32]EventKind
	threads     map[uint32]*threadState
	threadOrder []uint32
	producers   map[replay.Handle]replay.PlotPoint
	edges       map[replay.CausalEdge]struct{}
	edgeOrder   []replay.CausalEdge
}

// Grinder consumes heap-API trace events and emits one Story per
// process. It implements parse.EventHandler.
type Grinder struct {
	parse.NopHandler

	log     *zap.Logger
	procs   map[uint32]*processState
	missing []MissingEvent
}

// New builds an empty grinder. A nil logger is replaced by a nop.
func New(log *zap.Logger) *Grinder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Grinder{
		log:   log,
		procs: make(map[uint32]*processState),
	}
}

func (g *Grinder) process(pid uint32) *processState {
	p, ok := g.procs[pid]
	if !ok {
		p = &processState{
			kinds:     make(map[uint32]EventKind),
			threads:   make(map[uint32]*threadState),
			producers: make(map[replay.Handle]replay.PlotPoint),
			edges:     make(map[replay.CausalEdge]struct{}),
		}
		g.procs[pid] = p
	}
	return p
}

func (p *processState) thread(tid uint32) *threadState {
	t, ok := p.threads[tid]
	if !ok {
		t = &threadState{line: len(p.threadOrder)}
		p.threads[tid] = t
		p.threadOrder = append(p.threadOrder, tid)
	}
	return t
}

// OnFunctionNameTableEntry binds a function id to its event type. A name
// outside the fixed vocabulary goes to the missing-events report and
// produces no mapping.
func (g *Grinder) OnFunctionNameTableEntry(time uint64, pid uint32, entry format.FunctionNameEntry) {
	kind, ok := eventNames[entry.Name]
	if !ok {
		g.missing = append(g.missing, MissingEvent{
			ProcessID:  pid,
			FunctionID: entry.FunctionID,
			Name:       entry.Name,
		})
		g.log.Warn("no heap event type for traced function",
			zap.Uint32("process_id", pid),
			zap.Uint32("function_id", entry.FunctionID),
			zap.String("name", entry.Name))
		return
	}
	g.process(pid).kinds[entry.FunctionID] = kind
}

// OnFunctionEntry stacks the call's arguments until its exit arrives.
// Heap-event streams reference functions by name-table id.
func (g *Grinder) OnFunctionEntry(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	p := g.process(pid)
	kind, ok := p.kinds[uint32(ev.Function)]
	if !ok {
		return
	}
	t := p.thread(tid)
	t.pending = append(t.pending, pendingCall{kind: kind, args: ev.Args})
}

// OnFunctionExit completes the innermost pending call with the return
// value and materializes the heap event. Exits with no pending call are
// exception orphans and are dropped.
func (g *Grinder) OnFunctionExit(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	p := g.process(pid)
	t := p.thread(tid)
	if len(t.pending) == 0 {
		return
	}
	call := t.pending[len(t.pending)-1]
	t.pending = t.pending[:len(t.pending)-1]

	retval := ev.Args[0]
	event, produced, consumed := buildEvent(call, retval)
	if event == nil {
		return
	}

	point := replay.PlotPoint{Line: t.line, Event: len(t.events)}
	t.events = append(t.events, event)

	for _, h := range consumed {
		producer, ok := p.producers[h]
		if !ok || producer.Line == point.Line {
			continue
		}
		edge := replay.CausalEdge{From: producer, To: point}
		if _, dup := p.edges[edge]; dup {
			continue
		}
		p.edges[edge] = struct{}{}
		p.edgeOrder = append(p.edgeOrder, edge)
	}
	for _, h := range produced {
		p.producers[h] = point
	}
}

// buildEvent maps a completed call to its replay event plus the handles
// it produced and consumed.
func buildEvent(call pendingCall, retval uint64) (replay.Event, []replay.Handle, []replay.Handle) {
	switch call.kind {
	case EventHeapCreate:
		return replay.HeapCreateEvent{
			Options:     uint32(call.args[0]),
			InitialSize: call.args[1],
			MaxSize:     call.args[2],
			Result:      replay.Handle(retval),
		}, []replay.Handle{replay.Handle(retval)}, nil
	case EventHeapDestroy:
		heap := replay.Handle(call.args[0])
		return replay.HeapDestroyEvent{Heap: heap}, nil, []replay.Handle{heap}
	case EventHeapAlloc:
		heap := replay.Handle(call.args[0])
		return replay.HeapAllocEvent{
			Heap:   heap,
			Flags:  uint32(call.args[1]),
			Size:   call.args[2],
			Result: replay.Handle(retval),
		}, []replay.Handle{replay.Handle(retval)}, []replay.Handle{heap}
	case EventHeapReAlloc:
		heap := replay.Handle(call.args[0])
		block := replay.Handle(call.args[2])
		return replay.HeapReAllocEvent{
			Heap:   heap,
			Flags:  uint32(call.args[1]),
			Block:  block,
			Size:   call.args[3],
			Result: replay.Handle(retval),
		}, []replay.Handle{replay.Handle(retval)}, []replay.Handle{heap, block}
	case EventHeapFree:
		heap := replay.Handle(call.args[0])
		block := replay.Handle(call.args[2])
		return replay.HeapFreeEvent{
			Heap:  heap,
			Flags: uint32(call.args[1]),
			Block: block,
		}, nil, []replay.Handle{heap, block}
	case EventHeapSize:
		heap := replay.Handle(call.args[0])
		block := replay.Handle(call.args[2])
		return replay.HeapSizeEvent{
			Heap:   heap,
			Flags:  uint32(call.args[1]),
			Block:  block,
			Result: retval,
		}, nil, []replay.Handle{heap, block}
	case EventHeapSetInformation:
		heap := replay.Handle(call.args[0])
		return replay.HeapSetInformationEvent{
			Heap:      heap,
			InfoClass: uint32(call.args[1]),
		}, nil, []replay.Handle{heap}
	case EventGetProcessHeap:
		return replay.GetProcessHeapEvent{
			Result: replay.Handle(retval),
		}, []replay.Handle{replay.Handle(retval)}, nil
	}
	return nil, nil, nil
}

// EventType looks up the event type bound to a (process, function id)
// pair.
func (g *Grinder) EventType(pid, functionID uint32) (EventKind, bool) {
	p, ok := g.procs[pid]
	if !ok {
		return EventUnknown, false
	}
	kind, ok := p.kinds[functionID]
	return kind, ok
}

// MissingEvents reports the name-table entries with no event mapping, in
// arrival order.
func (g *Grinder) MissingEvents() []MissingEvent {
	return g.missing
}

// Story assembles the replayable story of one process: one plot line per
// thread in first-seen order, plus the causal edges derived from
// cross-thread handle flow. Unmatched entries (exception orphans) are
// discarded.
func (g *Grinder) Story(pid uint32) (*replay.Story, error) {
	story := replay.NewStory()
	p, ok := g.procs[pid]
	if !ok {
		return story, nil
	}
	for _, tid := range p.threadOrder {
		line := story.AddLine()
		for _, ev := range p.threads[tid].events {
			line.Append(ev)
		}
	}
	for _, edge := range p.edgeOrder {
		if err := story.AddCausalEdge(edge.From, edge.To); err != nil {
			return nil, err
		}
	}
	return story, nil
}

// Processes lists the process ids with grinder state, in no particular
// order.
func (g *Grinder) Processes() []uint32 {
	pids := make([]uint32, 0, len(g.procs))
	for pid := range g.procs {
		pids = append(pids, pid)
	}
	return pids
}
