package capture

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/bryanchriswhite/Backdrop/internal/render"
)

// Pattern colors. The backdrop matches the chroma key segmenter's default
// key so the pattern source works end to end without a camera.
var (
	PatternBackdrop = color.RGBA{0, 255, 0, 255}
	PatternSubject  = color.RGBA{205, 150, 120, 255}
)

// PatternSource synthesizes frames: a subject drifting left and right in
// front of a flat green backdrop.
type PatternSource struct {
	settings Settings

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	frames  chan *bridge.Frame
	dropped atomic.Uint64
}

// NewPatternSource creates a synthetic source
func NewPatternSource(s Settings) *PatternSource {
	return &PatternSource{
		settings: s,
		frames:   make(chan *bridge.Frame, 2),
	}
}

// Name returns the source name
func (p *PatternSource) Name() string {
	return "pattern"
}

// Frames returns the frame channel
func (p *PatternSource) Frames() <-chan *bridge.Frame {
	return p.frames
}

// Dropped reports frames discarded because the consumer was busy
func (p *PatternSource) Dropped() uint64 {
	return p.dropped.Load()
}

// Start begins generating frames at the configured rate
func (p *PatternSource) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pattern source already running")
	}
	if p.settings.FPS <= 0 {
		return fmt.Errorf("capture fps must be positive, got %d", p.settings.FPS)
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stopChan, p.done)

	logger.WithComponent("capture").Info().
		Int("width", p.settings.Width).
		Int("height", p.settings.Height).
		Int("fps", p.settings.FPS).
		Msg("Test pattern started")
	return nil
}

// Stop halts generation and closes the frame channel
func (p *PatternSource) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done
	return nil
}

func (p *PatternSource) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(p.frames)

	interval := time.Second / time.Duration(p.settings.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			frame, err := p.Render(now.Sub(start))
			if err != nil {
				logger.WithComponent("capture").Error().Err(err).Msg("Failed to render test pattern")
				return
			}
			select {
			case p.frames <- frame:
			default:
				p.dropped.Add(1)
			}
		}
	}
}

// Render draws the pattern as it looks at ts. With a rotation configured
// the frame is stored sideways, the way a rotated sensor delivers it.
func (p *PatternSource) Render(ts time.Duration) (*bridge.Frame, error) {
	w, h := p.settings.Width, p.settings.Height
	upright := image.NewRGBA(image.Rect(0, 0, w, h))

	// subject: head and shoulders, swinging with a 4s period
	phase := math.Sin(2 * math.Pi * ts.Seconds() / 4)
	cx := float64(w)/2 + phase*float64(w)/6
	headR := float64(min(w, h)) / 8
	headY := float64(h) * 0.4
	bodyY := float64(h) * 0.95
	bodyRX := headR * 2.2
	bodyRY := float64(h) * 0.4

	for y := 0; y < h; y++ {
		fy := float64(y) + 0.5
		for x := 0; x < w; x++ {
			fx := float64(x) + 0.5
			c := PatternBackdrop
			if inEllipse(fx, fy, cx, headY, headR, headR*1.2) || inEllipse(fx, fy, cx, bodyY, bodyRX, bodyRY) {
				c = PatternSubject
			}
			i := upright.PixOffset(x, y)
			upright.Pix[i], upright.Pix[i+1], upright.Pix[i+2], upright.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}

	// store it turned back counter-clockwise so the bridge's clockwise
	// correction restores the upright picture
	stored := bridge.Rotate(upright, (360-p.settings.Rotation)%360)
	buf := render.PlanarI420(stored.Pix, stored.Rect.Dx(), stored.Rect.Dy())
	return bridge.NewFrame(buf, p.settings.Rotation, ts)
}

func inEllipse(x, y, cx, cy, rx, ry float64) bool {
	dx := (x - cx) / rx
	dy := (y - cy) / ry
	return dx*dx+dy*dy <= 1
}
