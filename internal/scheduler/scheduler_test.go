package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSegmentsOncePerCycle(t *testing.T) {
	for start := 0; start < DutyCycle; start++ {
		s := NewAt(start)

		var actions []Action
		for i := 0; i < 30; i++ {
			actions = append(actions, s.Next(true))
		}

		// every window of DutyCycle consecutive frames holds exactly one request
		for i := 0; i+DutyCycle <= len(actions); i++ {
			n := 0
			for _, a := range actions[i : i+DutyCycle] {
				if a == ActionSegment {
					n++
				}
			}
			assert.Equal(t, 1, n, "start=%d window=%d", start, i)
		}
	}
}

func TestNextSegmentsAtCounterZero(t *testing.T) {
	s := New()
	assert.Equal(t, ActionSegment, s.Next(true))
	assert.Equal(t, ActionSkip, s.Next(true))
	assert.Equal(t, ActionSkip, s.Next(true))
	assert.Equal(t, ActionSegment, s.Next(true))

	s = NewAt(2)
	assert.Equal(t, ActionSkip, s.Next(true))
	assert.Equal(t, ActionSegment, s.Next(true))
}

func TestDisabledBypassesWithoutAdvancing(t *testing.T) {
	s := New()
	s.Next(true)
	assert.Equal(t, 1, s.Counter())

	for i := 0; i < 5; i++ {
		assert.Equal(t, ActionBypass, s.Next(false))
	}
	assert.Equal(t, 1, s.Counter())

	assert.Equal(t, ActionSkip, s.Next(true))
	assert.Equal(t, ActionSkip, s.Next(true))
	assert.Equal(t, ActionSegment, s.Next(true))
}

func TestNewAtNormalizesStart(t *testing.T) {
	assert.Equal(t, 1, NewAt(4).Counter())
	assert.Equal(t, 2, NewAt(-1).Counter())
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "bypass", ActionBypass.String())
	assert.Equal(t, "segment", ActionSegment.String())
	assert.Equal(t, "skip", ActionSkip.String())
	assert.Equal(t, "unknown", Action(42).String())
}
