package calltrace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracegrind/tracegrind/internal/trace/format"
)

func TestGrinderOrdersCalls(t *testing.T) {
	g := New(nil)
	g.OnFunctionEntry(300, 1, 2, format.FunctionEvent{Function: 0xB})
	g.OnFunctionEntry(100, 1, 2, format.FunctionEvent{Function: 0xA})
	g.OnFunctionExit(300, 1, 1, format.FunctionEvent{Function: 0xB})
	g.OnFunctionEntry(300, 1, 1, format.FunctionEvent{Function: 0xB})
	g.OnFunctionExit(200, 1, 2, format.FunctionEvent{Function: 0xA})

	got := g.Calls(1)
	want := []Call{
		{Time: 100, ThreadID: 2, Function: 0xA, Kind: CallEntry},
		{Time: 200, ThreadID: 2, Function: 0xA, Kind: CallExit},
		{Time: 300, ThreadID: 1, Function: 0xB, Kind: CallEntry},
		{Time: 300, ThreadID: 1, Function: 0xB, Kind: CallExit},
		{Time: 300, ThreadID: 2, Function: 0xB, Kind: CallEntry},
	}
	assert.Equal(t, want, got)
}

func TestGrinderBatchFanOut(t *testing.T) {
	g := New(nil)
	g.OnBatchFunctionEntry(1000, 7, 3, format.BatchEntry{
		ThreadID: 3,
		Calls: []format.FuncCall{
			{Function: 0xA, TicksAgo: 30},
			{Function: 0xA, TicksAgo: 20},
			{Function: 0xB, TicksAgo: 10},
		},
	})

	got := g.Calls(7)
	require.Len(t, got, 3)
	assert.Equal(t, Call{Time: 970, ThreadID: 3, Function: 0xA, Kind: CallEntry}, got[0])
	assert.Equal(t, Call{Time: 980, ThreadID: 3, Function: 0xA, Kind: CallEntry}, got[1])
	assert.Equal(t, Call{Time: 990, ThreadID: 3, Function: 0xB, Kind: CallEntry}, got[2])
}

func TestGrinderBatchClampsAtZero(t *testing.T) {
	g := New(nil)
	g.OnBatchFunctionEntry(5, 1, 1, format.BatchEntry{
		ThreadID: 1,
		Calls:    []format.FuncCall{{Function: 0xA, TicksAgo: 50}},
	})
	got := g.Calls(1)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(0), got[0].Time)
}

func TestGrinderProcessIsolation(t *testing.T) {
	g := New(nil)
	g.OnFunctionEntry(1, 10, 1, format.FunctionEvent{Function: 0xA})
	g.OnFunctionEntry(2, 20, 1, format.FunctionEvent{Function: 0xB})

	assert.Equal(t, []uint32{10, 20}, g.Processes())
	assert.Len(t, g.Calls(10), 1)
	assert.Len(t, g.Calls(20), 1)
	assert.Empty(t, g.Calls(30))
}

func TestVerifyToleratesEntrySurplus(t *testing.T) {
	g := New(nil)
	// Exception-orphaned entries: more entries than exits is legal.
	g.OnFunctionEntry(1, 1, 1, format.FunctionEvent{Function: 0xA})
	g.OnFunctionEntry(2, 1, 1, format.FunctionEvent{Function: 0xA})
	g.OnFunctionExit(3, 1, 1, format.FunctionEvent{Function: 0xA})
	assert.NoError(t, g.Verify(1))
}

func TestVerifyRejectsExitSurplus(t *testing.T) {
	g := New(nil)
	g.OnFunctionEntry(1, 1, 1, format.FunctionEvent{Function: 0xA})
	g.OnFunctionExit(2, 1, 1, format.FunctionEvent{Function: 0xA})
	g.OnFunctionExit(3, 1, 1, format.FunctionEvent{Function: 0xA})
	assert.ErrorIs(t, g.Verify(1), ErrExitSurplus)
}

func TestWriteReport(t *testing.T) {
	g := New(nil)
	g.OnFunctionEntry(100, 1, 2, format.FunctionEvent{Function: 0x401000})
	g.OnFunctionExit(200, 1, 2, format.FunctionEvent{Function: 0x401000})

	var buf bytes.Buffer
	require.NoError(t, g.WriteReport(&buf))

	want := "process 1: 2 calls\n" +
		"  [100] thread 2 entry 0x0000000000401000\n" +
		"  [200] thread 2 exit 0x0000000000401000\n"
	assert.Equal(t, want, buf.String())
}
