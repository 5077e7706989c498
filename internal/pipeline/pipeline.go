// Package pipeline wires captured frames through segmentation, matte
// classification and compositing onto a substitute background.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/background"
	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/composite"
	"github.com/bryanchriswhite/Backdrop/internal/config"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/bryanchriswhite/Backdrop/internal/matte"
	"github.com/bryanchriswhite/Backdrop/internal/output"
	"github.com/bryanchriswhite/Backdrop/internal/scheduler"
	"github.com/bryanchriswhite/Backdrop/internal/segment"
	"github.com/robfig/cron/v3"
)

// refreshTimeout bounds one scheduled background re-fetch
const refreshTimeout = 30 * time.Second

// Overlay draws onto a composite before it is re-encoded
type Overlay interface {
	Render(img *image.RGBA) error
}

// Options are the collaborators of a Pipeline
type Options struct {
	Segmenter segment.Segmenter // required
	Bridge    *bridge.Bridge    // required
	Loader    *background.Loader
	Sink      output.Sink
	Overlay   Overlay

	// SegmentTimeout bounds each segmentation call; zero means no bound
	SegmentTimeout time.Duration
}

// Pipeline is the virtual background processor. OnFrame is called by a
// single capture goroutine; the setters may be called from anywhere.
type Pipeline struct {
	mu            sync.RWMutex
	enabled       bool
	width         int
	height        int
	backgroundURI string
	refreshSpec   string
	scaler        config.ScalerKind
	bgSeq         uint64
	cache         *background.Cache
	sink          output.Sink
	closed        bool
	cron          *cron.Cron

	sched      *scheduler.Scheduler
	seg        segment.Segmenter
	bridge     *bridge.Bridge
	loader     *background.Loader
	overlay    Overlay
	segTimeout time.Duration

	stats counters
	wg    sync.WaitGroup
}

// snapshot is the configuration one frame is processed with
type snapshot struct {
	enabled    bool
	width      int
	height     int
	background *image.RGBA
}

// New builds a pipeline from cfg, loading the initial background
func New(ctx context.Context, cfg config.PipelineConfig, opts Options) (*Pipeline, error) {
	if opts.Segmenter == nil {
		return nil, fmt.Errorf("pipeline requires a segmenter")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("pipeline requires a bridge")
	}
	if err := config.ValidateSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if opts.Loader == nil {
		opts.Loader = background.NewLoader(nil)
	}
	scaler := cfg.Scaler
	if scaler == "" {
		scaler = config.ScalerNearest
	}

	bg := opts.Loader.Load(ctx, cfg.BackgroundURI)
	cache, err := background.NewCache(bg, cfg.Width, cfg.Height, scaler)
	if err != nil {
		return nil, fmt.Errorf("failed to scale background: %w", err)
	}

	p := &Pipeline{
		enabled:       cfg.Enabled,
		width:         cfg.Width,
		height:        cfg.Height,
		backgroundURI: cfg.BackgroundURI,
		scaler:        scaler,
		cache:         cache,
		sink:          opts.Sink,
		sched:         scheduler.New(),
		seg:           opts.Segmenter,
		bridge:        opts.Bridge,
		loader:        opts.Loader,
		overlay:       opts.Overlay,
		segTimeout:    opts.SegmentTimeout,
	}

	if cfg.BackgroundRefresh != "" {
		if err := p.StartRefresh(cfg.BackgroundRefresh); err != nil {
			return nil, err
		}
	}

	logger.WithComponent("pipeline").Info().
		Bool("enabled", cfg.Enabled).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Str("segmenter", opts.Segmenter.Name()).
		Str("scaler", string(scaler)).
		Msg("Pipeline created")
	return p, nil
}

// OnFrame processes one captured frame. Disabled frames reach the sink
// untouched. Enabled frames go through the duty cycle: one in every
// scheduler.DutyCycle starts an asynchronous segmentation whose composite
// is emitted when it completes; the others are dropped.
func (p *Pipeline) OnFrame(f *bridge.Frame) {
	p.stats.received.Add(1)
	snap := p.snapshot()

	switch p.sched.Next(snap.enabled) {
	case scheduler.ActionBypass:
		p.stats.bypassed.Add(1)
		p.emit(f)
	case scheduler.ActionSkip:
		p.stats.skipped.Add(1)
	case scheduler.ActionSegment:
		p.startSegmentation(snap, f)
	}
}

func (p *Pipeline) snapshot() snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return snapshot{
		enabled:    p.enabled,
		width:      p.width,
		height:     p.height,
		background: p.cache.Scaled(),
	}
}

func (p *Pipeline) startSegmentation(snap snapshot, f *bridge.Frame) {
	log := logger.WithComponent("pipeline")

	img, err := bridge.ToColorImage(f)
	if err != nil {
		p.stats.conversionErrors.Add(1)
		log.Warn().Err(err).Msg("Failed to decode frame")
		return
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	p.stats.segmentRequested.Add(1)
	p.stats.inFlight.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.stats.inFlight.Add(-1)
		p.process(snap, f, img)
	}()
}

// process runs on its own goroutine. Once started it is never cancelled;
// it works from the snapshot taken when the frame arrived. A frame whose
// size no longer matches the target passes through unmodified.
func (p *Pipeline) process(snap snapshot, f *bridge.Frame, img *image.RGBA) {
	log := logger.WithComponent("pipeline")
	ts := f.Timestamp

	ctx := context.Background()
	if p.segTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.segTimeout)
		defer cancel()
	}

	start := time.Now()
	field, err := p.seg.Segment(ctx, img)
	latency := time.Since(start)
	p.stats.lastLatency.Store(int64(latency))
	if err == nil {
		err = segment.CheckField(field, img)
	}
	if err != nil {
		p.stats.segmentFailed.Add(1)
		log.Warn().Err(err).Dur("timestamp", ts).Msg("Segmentation failed, no composite this cycle")
		return
	}

	m, err := matte.Classify(field)
	if err != nil {
		p.stats.segmentFailed.Add(1)
		log.Warn().Err(err).Dur("timestamp", ts).Msg("Failed to classify likelihood field")
		return
	}

	out, err := composite.Composite(m, snap.background, img)
	if errors.Is(err, composite.ErrDimensionMismatch) {
		p.stats.dimensionMismatches.Add(1)
		p.stats.passedThrough.Add(1)
		log.Warn().
			Err(err).
			Int("frame_width", img.Rect.Dx()).
			Int("frame_height", img.Rect.Dy()).
			Int("target_width", snap.width).
			Int("target_height", snap.height).
			Msg("Composite dropped, passing frame through")
		p.emit(f)
		return
	}
	if err != nil {
		log.Warn().Err(err).Dur("timestamp", ts).Msg("Composite dropped")
		return
	}

	if p.overlay != nil {
		if err := p.overlay.Render(out); err != nil {
			log.Warn().Err(err).Msg("Overlay render failed")
		}
	}

	frame, err := p.bridge.ToOutputFrame(context.Background(), out, ts)
	if err != nil {
		p.stats.conversionErrors.Add(1)
		log.Warn().Err(err).Msg("Failed to convert composite to output frame")
		return
	}

	p.stats.compositesEmitted.Add(1)
	log.Debug().
		Dur("timestamp", ts).
		Dur("segmentation", latency).
		Msg("Composite emitted")
	p.emit(frame)
}

func (p *Pipeline) emit(f *bridge.Frame) {
	p.mu.RLock()
	sink := p.sink
	p.mu.RUnlock()

	if sink != nil {
		sink.OnFrame(f)
	}
}

// SetSink replaces the downstream sink; nil discards frames
func (p *Pipeline) SetSink(sink output.Sink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// SetEnabled toggles virtual background processing. It takes effect on the
// next frame; composites already in flight still complete.
func (p *Pipeline) SetEnabled(enabled bool) {
	p.mu.Lock()
	changed := p.enabled != enabled
	p.enabled = enabled
	p.mu.Unlock()

	if changed {
		logger.WithComponent("pipeline").Info().Bool("enabled", enabled).Msg("Virtual background toggled")
	}
}

// SetTargetSize changes the output size and rescales the background
// before returning. Non-positive sizes are rejected with
// config.ErrInvalidSize.
func (p *Pipeline) SetTargetSize(width, height int) error {
	if err := config.ValidateSize(width, height); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.cache.Resize(width, height); err != nil {
		return fmt.Errorf("failed to rescale background: %w", err)
	}
	p.width = width
	p.height = height

	logger.WithComponent("pipeline").Info().
		Int("width", width).
		Int("height", height).
		Msg("Target size changed")
	return nil
}

// SetBackgroundSource loads uri (empty selects the bundled default) and
// swaps it in. Loading happens outside the pipeline lock; load failures
// fall back to the default and are never returned. When calls overlap
// the most recent one wins.
func (p *Pipeline) SetBackgroundSource(ctx context.Context, uri string) {
	p.mu.Lock()
	p.bgSeq++
	seq := p.bgSeq
	p.mu.Unlock()

	img := p.loader.Load(ctx, uri)

	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.WithComponent("pipeline")
	if seq != p.bgSeq {
		log.Debug().Str("uri", uri).Msg("Background load superseded")
		return
	}
	if err := p.cache.SetSource(img); err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Failed to scale background")
		return
	}
	p.backgroundURI = uri
}

// StartRefresh re-fetches the current background on a cron schedule,
// replacing any previous schedule. Useful for URLs that serve rotating
// images.
func (p *Pipeline) StartRefresh(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, p.refreshBackground); err != nil {
		return fmt.Errorf("invalid background refresh schedule %q: %w", spec, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pipeline closed")
	}
	prev := p.cron
	p.cron = c
	p.refreshSpec = spec
	p.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	c.Start()

	logger.WithComponent("pipeline").Info().Str("schedule", spec).Msg("Background refresh scheduled")
	return nil
}

func (p *Pipeline) refreshBackground() {
	p.mu.RLock()
	uri := p.backgroundURI
	p.mu.RUnlock()

	if uri == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	p.SetBackgroundSource(ctx, uri)
}

// Config returns the current pipeline configuration
func (p *Pipeline) Config() config.PipelineConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return config.PipelineConfig{
		Enabled:           p.enabled,
		Width:             p.width,
		Height:            p.height,
		BackgroundURI:     p.backgroundURI,
		BackgroundRefresh: p.refreshSpec,
		Scaler:            p.scaler,
	}
}

// Background returns the background scaled to the current target size
func (p *Pipeline) Background() *image.RGBA {
	return p.cache.Scaled()
}

// Stats returns a copy of the pipeline counters
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// Close stops the refresh schedule and waits for in-flight composites to
// be emitted, or for ctx to expire. It may be called again to keep
// waiting. Frames arriving after Close are still bypassed or dropped but
// start no new segmentation.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.WithComponent("pipeline").Info().
			Uint64("composites", p.stats.compositesEmitted.Load()).
			Msg("Pipeline closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight composites: %w", ctx.Err())
	}
}
