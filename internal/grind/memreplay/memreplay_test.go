package memreplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracegrind/tracegrind/internal/replay"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

func entry(fn uint64, args ...uint64) format.FunctionEvent {
	ev := format.FunctionEvent{Function: fn}
	copy(ev.Args[:], args)
	return ev
}

func exit(fn, retval uint64) format.FunctionEvent {
	return format.FunctionEvent{Function: fn, Args: [format.NumArgWords]uint64{retval}}
}

func TestNameMapping(t *testing.T) {
	g := New(nil)
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 37, Name: "asan_HeapAlloc"})
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 38, Name: "UnknownFn"})

	kind, ok := g.EventType(1, 37)
	require.True(t, ok)
	assert.Equal(t, EventHeapAlloc, kind)

	_, ok = g.EventType(1, 38)
	assert.False(t, ok)

	missing := g.MissingEvents()
	require.Len(t, missing, 1)
	assert.Equal(t, MissingEvent{ProcessID: 1, FunctionID: 38, Name: "UnknownFn"}, missing[0])
}

func TestNameMappingIsPerProcess(t *testing.T) {
	g := New(nil)
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 5, Name: "asan_HeapFree"})

	_, ok := g.EventType(2, 5)
	assert.False(t, ok)
}

func TestSingleThreadStory(t *testing.T) {
	g := New(nil)
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 1, Name: "asan_HeapCreate"})
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 2, Name: "asan_HeapAlloc"})
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 3, Name: "asan_HeapFree"})

	// HeapCreate(0, 4096, 0) -> 0x1000
	g.OnFunctionEntry(10, 1, 7, entry(1, 0, 4096, 0))
	g.OnFunctionExit(11, 1, 7, exit(1, 0x1000))
	// HeapAlloc(0x1000, 8, 64) -> 0x2000
	g.OnFunctionEntry(12, 1, 7, entry(2, 0x1000, 8, 64))
	g.OnFunctionExit(13, 1, 7, exit(2, 0x2000))
	// HeapFree(0x1000, 0, 0x2000)
	g.OnFunctionEntry(14, 1, 7, entry(3, 0x1000, 0, 0x2000))
	g.OnFunctionExit(15, 1, 7, exit(3, 1))

	story, err := g.Story(1)
	require.NoError(t, err)
	require.Len(t, story.Lines(), 1)
	line := story.Lines()[0]
	require.Equal(t, 3, line.Len())

	assert.Equal(t, replay.HeapCreateEvent{InitialSize: 4096, Result: 0x1000}, line.Event(0).Inner())
	assert.Equal(t, replay.HeapAllocEvent{Heap: 0x1000, Flags: 8, Size: 64, Result: 0x2000}, line.Event(1).Inner())
	assert.Equal(t, replay.HeapFreeEvent{Heap: 0x1000, Block: 0x2000}, line.Event(2).Inner())

	// Same-thread handle flow needs no causal edges.
	assert.Empty(t, story.Edges())

	require.NoError(t, story.Play(replay.NewMemoryBackdrop()))
}

func TestCrossThreadHandleFlowMakesEdges(t *testing.T) {
	g := New(nil)
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 1, Name: "asan_HeapCreate"})
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 2, Name: "asan_HeapAlloc"})
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 3, Name: "asan_HeapFree"})

	// Thread 7 creates the heap and allocates.
	g.OnFunctionEntry(10, 1, 7, entry(1, 0, 0, 0))
	g.OnFunctionExit(11, 1, 7, exit(1, 0x1000))
	g.OnFunctionEntry(12, 1, 7, entry(2, 0x1000, 0, 64))
	g.OnFunctionExit(13, 1, 7, exit(2, 0x2000))
	// Thread 9 frees the block thread 7 allocated.
	g.OnFunctionEntry(14, 1, 9, entry(3, 0x1000, 0, 0x2000))
	g.OnFunctionExit(15, 1, 9, exit(3, 1))

	story, err := g.Story(1)
	require.NoError(t, err)
	require.Len(t, story.Lines(), 2)

	// The free consumes two cross-thread handles: the heap (created at
	// line 0 event 0) and the block (allocated at line 0 event 1).
	want := []replay.CausalEdge{
		{From: replay.PlotPoint{Line: 0, Event: 0}, To: replay.PlotPoint{Line: 1, Event: 0}},
		{From: replay.PlotPoint{Line: 0, Event: 1}, To: replay.PlotPoint{Line: 1, Event: 0}},
	}
	assert.Equal(t, want, story.Edges())

	require.NoError(t, story.Play(replay.NewMemoryBackdrop()))
}

func TestUnmappedFunctionIgnored(t *testing.T) {
	g := New(nil)
	g.OnFunctionEntry(10, 1, 7, entry(99, 1, 2, 3))
	g.OnFunctionExit(11, 1, 7, exit(99, 4))

	story, err := g.Story(1)
	require.NoError(t, err)
	require.Len(t, story.Lines(), 1)
	assert.Equal(t, 0, story.Lines()[0].Len())
}

func TestOrphanedEntryDiscarded(t *testing.T) {
	g := New(nil)
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 1, Name: "asan_HeapAlloc"})

	// Entry with no exit: an exception unwound past the shim.
	g.OnFunctionEntry(10, 1, 7, entry(1, 0x1000, 0, 64))

	story, err := g.Story(1)
	require.NoError(t, err)
	assert.Equal(t, 0, story.Lines()[0].Len())
}

func TestOrphanedExitDiscarded(t *testing.T) {
	g := New(nil)
	g.OnFunctionNameTableEntry(0, 1, format.FunctionNameEntry{FunctionID: 1, Name: "asan_HeapAlloc"})
	g.OnFunctionExit(10, 1, 7, exit(1, 0x2000))

	story, err := g.Story(1)
	require.NoError(t, err)
	assert.Equal(t, 0, story.Lines()[0].Len())
}

func TestStoryOfUnseenProcessIsEmpty(t *testing.T) {
	g := New(nil)
	story, err := g.Story(123)
	require.NoError(t, err)
	assert.Empty(t, story.Lines())
}
