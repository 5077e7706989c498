package output

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/segmentio/ksuid"
)

// ErrNoFrame is returned when a snapshot is requested before any frame arrived
var ErrNoFrame = errors.New("no frame received yet")

// Snapshotter remembers the latest frame and writes it out as PNG on demand
type Snapshotter struct {
	dir string

	mu     sync.Mutex
	latest *bridge.Frame
}

// NewSnapshotter creates a snapshotter that writes into dir
func NewSnapshotter(dir string) *Snapshotter {
	return &Snapshotter{dir: dir}
}

// OnFrame records frame as the latest one
func (s *Snapshotter) OnFrame(frame *bridge.Frame) {
	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
}

// Save writes the latest frame to <dir>/<ksuid>.png and returns the path
func (s *Snapshotter) Save() (string, error) {
	s.mu.Lock()
	frame := s.latest
	s.mu.Unlock()

	if frame == nil {
		return "", ErrNoFrame
	}

	img, err := bridge.ToColorImage(frame)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	path := filepath.Join(s.dir, ksuid.New().String()+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	logger.WithComponent("output").Info().
		Str("path", path).
		Dur("timestamp", frame.Timestamp).
		Msg("Snapshot saved")
	return path, nil
}
