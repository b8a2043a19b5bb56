package replay

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownHandle is returned when an event references a recorded handle
// that no earlier event bound during this replay.
var ErrUnknownHandle = errors.New("replay: unknown recorded handle")

// Event is one replayable heap operation.
type Event interface {
	Play(pb *Playback) error
}

// Playback is the shared state of one Story replay: the backdrop the
// events drive, and the translation from recorded handle values to the
// live handles the backdrop issued this time around.
//
// The handle table is shared across plot lines. Cross-line handle flows
// are safe only when a causal edge orders the producer before the
// consumer; that is exactly the edge set the memory-replay grinder emits.
type Playback struct {
	backdrop Backdrop
	handles  sync.Map // recorded Handle -> live Handle
}

// NewPlayback wraps a backdrop for one replay run.
func NewPlayback(b Backdrop) *Playback {
	return &Playback{backdrop: b}
}

// Backdrop returns the backdrop this replay drives.
func (p *Playback) Backdrop() Backdrop {
	return p.backdrop
}

func (p *Playback) bind(recorded, live Handle) {
	p.handles.Store(recorded, live)
}

func (p *Playback) resolve(recorded Handle) (Handle, error) {
	live, ok := p.handles.Load(recorded)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownHandle, "handle %#x", uint64(recorded))
	}
	return live.(Handle), nil
}

func (p *Playback) unbind(recorded Handle) {
	p.handles.Delete(recorded)
}

// LinkedEvent wraps an event with its causal edges: prequels are waited
// on before the inner event plays, sequels are signaled after it
// completes. Prequels are waited in insertion order.
type LinkedEvent struct {
	inner    Event
	prequels []*CausalLink
	sequels  []*CausalLink
}

// NewLinkedEvent wraps inner with empty edge sets.
func NewLinkedEvent(inner Event) *LinkedEvent {
	return &LinkedEvent{inner: inner}
}

// Inner returns the wrapped event.
func (e *LinkedEvent) Inner() Event {
	return e.inner
}

// AddDep orders e before next: next will not play until e has completed.
func (e *LinkedEvent) AddDep(next *LinkedEvent) {
	link := NewCausalLink()
	e.sequels = append(e.sequels, link)
	next.prequels = append(next.prequels, link)
}

// Play waits for every prequel, plays the inner event, then signals every
// sequel. A failing inner event leaves the sequels unsignaled; the owning
// runner releases them so dependent lines are not stranded.
func (e *LinkedEvent) Play(pb *Playback) error {
	for _, link := range e.prequels {
		link.Wait()
	}
	if err := e.inner.Play(pb); err != nil {
		return err
	}
	e.release()
	return nil
}

// release signals every sequel without playing the event.
func (e *LinkedEvent) release() {
	for _, link := range e.sequels {
		link.Signal()
	}
}
