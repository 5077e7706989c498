package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GStreamerSource captures I420 frames from a V4L2 camera through an
// appsink. Samples are polled rather than delivered by signal to keep cgo
// callbacks out of the picture.
type GStreamerSource struct {
	settings Settings

	mu       sync.RWMutex
	pipeline *gst.Pipeline
	appsink  *app.Sink
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	frames  chan *bridge.Frame
	start   time.Time
	dropped atomic.Uint64
	badCaps atomic.Uint64
}

// NewGStreamerSource creates a camera source. Nothing touches GStreamer
// until Start.
func NewGStreamerSource(s Settings) *GStreamerSource {
	return &GStreamerSource{
		settings: s,
		frames:   make(chan *bridge.Frame, 2),
	}
}

// LaunchString returns the gst-launch description for the capture pipeline
func (g *GStreamerSource) LaunchString() string {
	device := g.settings.Device
	if device == "" {
		device = "/dev/video0"
	}
	return fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! "+
			"videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		device, g.settings.Width, g.settings.Height, g.settings.FPS,
	)
}

// Name returns the source name
func (g *GStreamerSource) Name() string {
	return "camera"
}

// Frames returns the frame channel
func (g *GStreamerSource) Frames() <-chan *bridge.Frame {
	return g.frames
}

// Dropped reports frames discarded because the consumer was busy
func (g *GStreamerSource) Dropped() uint64 {
	return g.dropped.Load()
}

// Start initializes and starts the GStreamer pipeline
func (g *GStreamerSource) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	log := logger.WithComponent("capture")

	gst.Init(nil)

	launch := g.LaunchString()
	log.Debug().Str("pipeline", launch).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	g.pipeline = pipeline
	g.appsink = app.SinkFromElement(sinkElement)
	g.running = true
	g.start = time.Now()
	g.stopChan = make(chan struct{})
	g.done = make(chan struct{})

	go g.pollSamples(g.stopChan, g.done)

	log.Info().
		Str("device", g.settings.Device).
		Int("width", g.settings.Width).
		Int("height", g.settings.Height).
		Int("fps", g.settings.FPS).
		Msg("Camera capture started")
	return nil
}

// Stop stops the pipeline and closes the frame channel
func (g *GStreamerSource) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	close(g.stopChan)
	done := g.done
	g.mu.Unlock()

	// pollSamples owns the frame channel and closes it on exit
	<-done

	g.mu.Lock()
	if g.pipeline != nil {
		_ = g.pipeline.SetState(gst.StateNull)
		g.pipeline.Unref()
		g.pipeline = nil
		g.appsink = nil
	}
	g.mu.Unlock()

	logger.WithComponent("capture").Info().
		Uint64("dropped", g.dropped.Load()).
		Msg("Camera capture stopped")
	return nil
}

func (g *GStreamerSource) pollSamples(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(g.frames)

	fps := g.settings.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps*2))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.RLock()
			appsink := g.appsink
			g.mu.RUnlock()
			if appsink == nil {
				continue
			}

			// go-gst releases the sample itself; an explicit Unref double-frees
			sample := appsink.TryPullSample(time.Millisecond)
			if sample == nil {
				continue
			}

			frame, err := g.frameFromSample(sample)
			if err != nil {
				if g.badCaps.Add(1) == 1 {
					logger.WithComponent("capture").Warn().Err(err).Msg("Discarding unusable sample")
				}
				continue
			}

			select {
			case g.frames <- frame:
			default:
				g.dropped.Add(1)
			}
		}
	}
}

// frameFromSample copies the sample's I420 planes into a new frame
func (g *GStreamerSource) frameFromSample(sample *gst.Sample) (*bridge.Frame, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("sample without buffer")
	}

	caps := sample.GetCaps()
	if caps == nil {
		return nil, fmt.Errorf("sample without caps")
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil, fmt.Errorf("caps without structure")
	}

	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return nil, fmt.Errorf("caps width has type %T", width)
	}
	h, ok := height.(int)
	if !ok {
		return nil, fmt.Errorf("caps height has type %T", height)
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, fmt.Errorf("failed to map buffer")
	}
	defer buffer.Unmap()

	// GStreamer reuses the buffer, keep a private copy
	src := mapInfo.Bytes()
	data := make([]byte, len(src))
	copy(data, src)

	return bridge.FromI420(data, w, h, g.settings.Rotation, time.Since(g.start))
}
