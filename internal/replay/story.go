package replay

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrBadEdge is returned for a causal edge referencing a plot point the
// story does not contain.
var ErrBadEdge = errors.New("replay: causal edge references missing event")

// PlotLine is an ordered sequence of linked events played by one runner.
type PlotLine struct {
	events []*LinkedEvent
}

// Append wraps ev and adds it to the end of the line.
func (l *PlotLine) Append(ev Event) *LinkedEvent {
	linked := NewLinkedEvent(ev)
	l.events = append(l.events, linked)
	return linked
}

// Len returns the number of events on the line.
func (l *PlotLine) Len() int {
	return len(l.events)
}

// Event returns the i-th linked event.
func (l *PlotLine) Event(i int) *LinkedEvent {
	return l.events[i]
}

// PlotPoint addresses one event inside a story.
type PlotPoint struct {
	Line  int
	Event int
}

// CausalEdge orders From before To across plot lines.
type CausalEdge struct {
	From PlotPoint
	To   PlotPoint
}

// Story is a set of plot lines plus the causal edges between them.
type Story struct {
	lines []*PlotLine
	edges []CausalEdge
}

// NewStory returns an empty story.
func NewStory() *Story {
	return &Story{}
}

// AddLine appends an empty plot line and returns it.
func (s *Story) AddLine() *PlotLine {
	line := &PlotLine{}
	s.lines = append(s.lines, line)
	return line
}

// Lines returns the story's plot lines in index order.
func (s *Story) Lines() []*PlotLine {
	return s.lines
}

// Edges returns the causal-edge set.
func (s *Story) Edges() []CausalEdge {
	return s.edges
}

func (s *Story) at(p PlotPoint) (*LinkedEvent, error) {
	if p.Line < 0 || p.Line >= len(s.lines) {
		return nil, errors.Wrapf(ErrBadEdge, "line %d of %d", p.Line, len(s.lines))
	}
	line := s.lines[p.Line]
	if p.Event < 0 || p.Event >= line.Len() {
		return nil, errors.Wrapf(ErrBadEdge, "event %d of %d on line %d", p.Event, line.Len(), p.Line)
	}
	return line.Event(p.Event), nil
}

// AddCausalEdge orders the event at from before the event at to. Every
// faithful replay completes from before to begins.
func (s *Story) AddCausalEdge(from, to PlotPoint) error {
	src, err := s.at(from)
	if err != nil {
		return err
	}
	dst, err := s.at(to)
	if err != nil {
		return err
	}
	src.AddDep(dst)
	s.edges = append(s.edges, CausalEdge{From: from, To: to})
	return nil
}

// Play replays the story against backdrop: one goroutine per plot line,
// blocking until all lines have terminated. It returns nil only if every
// line succeeded.
func (s *Story) Play(backdrop Backdrop) error {
	pb := NewPlayback(backdrop)
	var g errgroup.Group
	for i, line := range s.lines {
		runner := NewPlotLineRunner(line, pb)
		idx := i
		g.Go(func() error {
			if err := runner.Run(); err != nil {
				return errors.Wrapf(err, "plot line %d", idx)
			}
			return nil
		})
	}
	return g.Wait()
}

// PlotLineRunner plays one plot line in order and stops at the first
// failing event.
type PlotLineRunner struct {
	line     *PlotLine
	playback *Playback
	failedAt int
	err      error
}

// NewPlotLineRunner binds a line to the replay it participates in.
func NewPlotLineRunner(line *PlotLine, pb *Playback) *PlotLineRunner {
	return &PlotLineRunner{line: line, playback: pb, failedAt: -1}
}

// Run plays the line's events in order. On failure it records the failing
// event, releases the causal links of the unplayed remainder so dependent
// lines are not stranded mid-replay, and returns the error.
func (r *PlotLineRunner) Run() error {
	for i, ev := range r.line.events {
		if err := ev.Play(r.playback); err != nil {
			r.failedAt = i
			r.err = err
			for _, dead := range r.line.events[i:] {
				dead.release()
			}
			return errors.Wrapf(err, "event %d", i)
		}
	}
	return nil
}

// Failure reports which event failed, or (-1, nil) after a clean run.
func (r *PlotLineRunner) Failure() (int, error) {
	return r.failedAt, r.err
}
