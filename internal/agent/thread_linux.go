//go:build linux

package agent

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/tracegrind/tracegrind/internal/agent/threadstate"
)

// platformThreadID returns the calling native thread's id. Hook stubs run
// on locked OS threads, so gettid identifies the instrumented thread.
func platformThreadID() uint32 {
	return uint32(unix.Gettid())
}

// platformThreadHandle builds a liveness handle for the calling thread.
func platformThreadHandle() threadstate.Handle {
	return threadstate.NewThreadHandle(os.Getpid(), unix.Gettid())
}
