// Package scheduler rate-limits segmentation to one request per duty cycle.
package scheduler

import "sync"

// DutyCycle is the number of enabled frames per segmentation request
const DutyCycle = 3

// Action is what the pipeline should do with one incoming frame
type Action int

const (
	// ActionBypass forwards the frame untouched
	ActionBypass Action = iota
	// ActionSegment starts an asynchronous segmentation for the frame
	ActionSegment
	// ActionSkip drops the frame from composite processing
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionBypass:
		return "bypass"
	case ActionSegment:
		return "segment"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Scheduler is a counter over the duty cycle. Only enabled frames advance it.
type Scheduler struct {
	mu      sync.Mutex
	counter int
}

// New creates a scheduler that segments the first enabled frame
func New() *Scheduler {
	return &Scheduler{}
}

// NewAt creates a scheduler whose counter starts at start (mod DutyCycle)
func NewAt(start int) *Scheduler {
	s := &Scheduler{}
	s.counter = ((start % DutyCycle) + DutyCycle) % DutyCycle
	return s
}

// Next decides the action for one frame and advances the counter
func (s *Scheduler) Next(enabled bool) Action {
	if !enabled {
		return ActionBypass
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	action := ActionSkip
	if s.counter == 0 {
		action = ActionSegment
	}
	s.counter = (s.counter + 1) % DutyCycle
	return action
}

// Counter returns the current position in the duty cycle
func (s *Scheduler) Counter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}
