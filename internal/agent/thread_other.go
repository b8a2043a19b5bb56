//go:build !linux

package agent

import (
	"github.com/tracegrind/tracegrind/internal/agent/threadstate"
)

// platformThreadID on platforms without a pollable thread id falls back to
// a single logical thread; hosts there must inject Options.ThreadID.
func platformThreadID() uint32 {
	return 1
}

func platformThreadHandle() threadstate.Handle {
	return threadstate.NewManualHandle()
}
