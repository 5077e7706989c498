// Package output holds the downstream sinks that receive pipeline frames.
package output

import (
	"github.com/bryanchriswhite/Backdrop/internal/bridge"
)

// Sink receives every frame the pipeline emits. OnFrame may be called from
// several goroutines at once and must not block for long; composites
// complete asynchronously and are delivered as soon as they are ready.
type Sink interface {
	OnFrame(frame *bridge.Frame)
}

// SinkFunc adapts a plain function to Sink
type SinkFunc func(frame *bridge.Frame)

// OnFrame calls f
func (f SinkFunc) OnFrame(frame *bridge.Frame) {
	f(frame)
}

// Output is a Sink with a lifecycle.
// This allows us to swap between different output methods:
// - MJPEG HTTP stream
// - PNG snapshots
type Output interface {
	Sink

	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width       int
	Height      int
	FPS         int
	JPEGQuality int
}

// Fanout delivers each frame to every sink in order
type Fanout []Sink

// OnFrame forwards frame to all sinks
func (f Fanout) OnFrame(frame *bridge.Frame) {
	for _, s := range f {
		if s != nil {
			s.OnFrame(frame)
		}
	}
}
