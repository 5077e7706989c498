// Package capture produces the camera frames fed to the pipeline.
package capture

import (
	"fmt"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/config"
)

// Source delivers frames on a channel. Frames are sent in capture order
// from a single goroutine; when the consumer falls behind, new frames are
// dropped rather than queued.
type Source interface {
	// Start begins producing frames
	Start() error

	// Stop halts capture and closes the Frames channel
	Stop() error

	// Frames returns the channel frames are delivered on
	Frames() <-chan *bridge.Frame

	// Name returns a human-readable name for this source
	Name() string

	// Dropped reports frames discarded because the consumer was busy
	Dropped() uint64
}

// Settings describe the frames a source should produce
type Settings struct {
	Device   string
	Width    int
	Height   int
	FPS      int
	Rotation int
}

// New creates the source selected by kind
func New(kind config.SourceKind, s Settings) (Source, error) {
	if err := config.ValidateSize(s.Width, s.Height); err != nil {
		return nil, err
	}
	if s.FPS <= 0 {
		return nil, fmt.Errorf("capture fps must be positive, got %d", s.FPS)
	}

	switch kind {
	case config.SourceCamera:
		return NewGStreamerSource(s), nil
	case config.SourcePattern:
		return NewPatternSource(s), nil
	default:
		return nil, fmt.Errorf("unknown capture source: %q", kind)
	}
}
