package parse

import (
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// EventHandler is the visitor a trace consumer implements. The parser
// delivers events in file order on one goroutine; every callback carries
// the (time, processID, threadID) prefix.
//
// Handlers record their own failures internally and expose them through
// Err; the parser polls it between events and stops on the first non-nil
// result. Handlers may read parser-exposed module data but never write it.
type EventHandler interface {
	OnProcessStarted(time uint64, processID uint32)
	OnProcessEnded(time uint64, processID uint32)

	OnFunctionEntry(time uint64, processID, threadID uint32, data format.FunctionEvent)
	OnFunctionExit(time uint64, processID, threadID uint32, data format.FunctionEvent)
	OnBatchFunctionEntry(time uint64, processID, threadID uint32, batch format.BatchEntry)

	OnProcessAttach(time uint64, processID, threadID uint32, module format.ModuleInfo)
	OnProcessDetach(time uint64, processID, threadID uint32, module format.ModuleInfo)
	OnThreadAttach(time uint64, processID, threadID uint32, module format.ModuleInfo)
	OnThreadDetach(time uint64, processID, threadID uint32, module format.ModuleInfo)

	OnFunctionNameTableEntry(time uint64, processID uint32, entry format.FunctionNameEntry)

	// Err reports handler-internal error state.
	Err() error
}

// NopHandler implements EventHandler with empty callbacks. Grinders embed
// it and override what they consume.
type NopHandler struct{}

func (NopHandler) OnProcessStarted(time uint64, processID uint32) {}
func (NopHandler) OnProcessEnded(time uint64, processID uint32)   {}

func (NopHandler) OnFunctionEntry(time uint64, processID, threadID uint32, data format.FunctionEvent) {
}
func (NopHandler) OnFunctionExit(time uint64, processID, threadID uint32, data format.FunctionEvent) {
}
func (NopHandler) OnBatchFunctionEntry(time uint64, processID, threadID uint32, batch format.BatchEntry) {
}

func (NopHandler) OnProcessAttach(time uint64, processID, threadID uint32, module format.ModuleInfo) {
}
func (NopHandler) OnProcessDetach(time uint64, processID, threadID uint32, module format.ModuleInfo) {
}
func (NopHandler) OnThreadAttach(time uint64, processID, threadID uint32, module format.ModuleInfo) {
}
func (NopHandler) OnThreadDetach(time uint64, processID, threadID uint32, module format.ModuleInfo) {
}

func (NopHandler) OnFunctionNameTableEntry(time uint64, processID uint32, entry format.FunctionNameEntry) {
}

func (NopHandler) Err() error { return nil }
