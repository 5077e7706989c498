package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/api"
	"github.com/bryanchriswhite/Backdrop/internal/background"
	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/capture"
	"github.com/bryanchriswhite/Backdrop/internal/config"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/bryanchriswhite/Backdrop/internal/output"
	"github.com/bryanchriswhite/Backdrop/internal/overlay"
	"github.com/bryanchriswhite/Backdrop/internal/pipeline"
	"github.com/bryanchriswhite/Backdrop/internal/render"
	"github.com/bryanchriswhite/Backdrop/internal/segment"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Backdrop pipeline and server",
	Long: `Start capturing, run every frame through the virtual background
pipeline and serve the result as an MJPEG stream next to the control API.

Flags given here override the config file for this run only.`,
	Example: `  # Start with the config file settings
  backdrop serve

  # Enable the virtual background at 1280x720 with a custom image
  backdrop serve --enable --width 1280 --height 720 --background ~/beach.jpg

  # Use the camera and a remote segmentation service
  backdrop serve --source camera --segmenter-url http://localhost:9000/segment

  # Start with debug logging
  backdrop serve --log-level debug --pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.Bool("enable", false, "enable the virtual background")
	f.Int("width", 0, "output width")
	f.Int("height", 0, "output height")
	f.String("background", "", "background image path or URL")
	f.String("source", "", "frame source (camera, pattern)")
	f.String("device", "", "camera device")
	f.String("segmenter-url", "", "remote segmentation endpoint; selects the remote segmenter")

	viper.BindPFlag("pipeline.enabled", f.Lookup("enable"))
	viper.BindPFlag("pipeline.width", f.Lookup("width"))
	viper.BindPFlag("pipeline.height", f.Lookup("height"))
	viper.BindPFlag("pipeline.background_uri", f.Lookup("background"))
	viper.BindPFlag("capture.source", f.Lookup("source"))
	viper.BindPFlag("capture.device", f.Lookup("device"))
	viper.BindPFlag("segmenter.url", f.Lookup("segmenter-url"))
}

// applyOverrides copies every key set on v onto cfg and validates the result
func applyOverrides(cfg *config.Config, v *viper.Viper) error {
	if v.IsSet("server_port") {
		if port := v.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	}
	if v.IsSet("log_level") {
		if level := v.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}
	if v.IsSet("pipeline.enabled") {
		cfg.Pipeline.Enabled = v.GetBool("pipeline.enabled")
	}
	if v.IsSet("pipeline.width") {
		cfg.Pipeline.Width = v.GetInt("pipeline.width")
	}
	if v.IsSet("pipeline.height") {
		cfg.Pipeline.Height = v.GetInt("pipeline.height")
	}
	if v.IsSet("pipeline.background_uri") {
		cfg.Pipeline.BackgroundURI = v.GetString("pipeline.background_uri")
	}
	if v.IsSet("capture.source") {
		cfg.Capture.Source = config.SourceKind(v.GetString("capture.source"))
	}
	if v.IsSet("capture.device") {
		cfg.Capture.Device = v.GetString("capture.device")
	}
	if v.IsSet("segmenter.url") {
		if url := v.GetString("segmenter.url"); url != "" {
			cfg.Segmenter.Kind = config.SegmenterRemote
			cfg.Segmenter.URL = url
		}
	}
	return cfg.Validate()
}

// newSegmenter builds the segmentation backend selected by cfg
func newSegmenter(cfg config.SegmenterConfig) (segment.Segmenter, error) {
	switch cfg.Kind {
	case config.SegmenterRemote:
		return segment.NewRemote(cfg.URL, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case config.SegmenterChromaKey:
		return segment.NewChromaKey(cfg.KeyColor, cfg.Tolerance)
	default:
		return nil, fmt.Errorf("unknown segmenter: %q", cfg.Kind)
	}
}

// pipelineStatus summarizes the pipeline for the status badge
func pipelineStatus(p *pipeline.Pipeline) overlay.Status {
	pc := p.Config()
	if !pc.Enabled {
		return overlay.Status{Text: "VB off", OK: true}
	}
	st := p.Stats()
	return overlay.Status{
		Text: fmt.Sprintf("VB %dx%d %.0fms", pc.Width, pc.Height, st.SegmentationLatencyMS),
		// healthy while fewer than one in ten segmentations fail
		OK: st.SegmentationsFailed*10 <= st.SegmentationsRequested,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if err := applyOverrides(cfg, viper.GetViper()); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	logger.Init(cfg.LogLevel, viper.GetBool("log_pretty"))
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	rc := render.NewContext(16)
	if err := rc.Start(); err != nil {
		return fmt.Errorf("failed to start render context: %w", err)
	}
	defer rc.Stop()

	seg, err := newSegmenter(cfg.Segmenter)
	if err != nil {
		return fmt.Errorf("failed to create segmenter: %w", err)
	}

	stream := output.NewMJPEGOutput(output.Config{
		Width:       cfg.Pipeline.Width,
		Height:      cfg.Pipeline.Height,
		FPS:         cfg.Capture.FPS,
		JPEGQuality: cfg.Output.JPEGQuality,
	})
	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	defer stream.Stop()

	sinks := output.Fanout{stream}
	var snapshots *output.Snapshotter
	if cfg.Output.SnapshotDir != "" {
		snapshots = output.NewSnapshotter(cfg.Output.SnapshotDir)
		sinks = append(sinks, snapshots)
	}

	var p *pipeline.Pipeline
	opts := pipeline.Options{
		Segmenter:      seg,
		Bridge:         bridge.New(rc),
		Loader:         background.NewLoader(nil),
		Sink:           sinks,
		SegmentTimeout: time.Duration(cfg.Segmenter.TimeoutMS) * time.Millisecond,
	}
	if cfg.Overlay.Enabled {
		overlays := overlay.NewManager(true, func() overlay.Status { return pipelineStatus(p) })
		overlays.LoadFromConfig(cfg.Overlay.Widgets)
		if len(overlays.GetAllWidgets()) == 0 {
			badge, err := overlays.CreateWidget("status", "status", nil)
			if err == nil {
				overlays.AddWidget(badge)
			}
		}
		opts.Overlay = overlays
	}

	p, err = pipeline.New(cmd.Context(), cfg.Pipeline, opts)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := capture.New(cfg.Capture.Source, capture.Settings{
		Device: cfg.Capture.Device,
		Width:  cfg.Pipeline.Width,
		Height: cfg.Pipeline.Height,
		FPS:    cfg.Capture.FPS,
	})
	if err != nil {
		return fmt.Errorf("failed to create capture source: %w", err)
	}
	if err := src.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", src.Name(), err)
	}

	// A single goroutine feeds the pipeline, in capture order
	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		for f := range src.Frames() {
			p.OnFrame(f)
		}
	}()

	server := api.NewServer(p, api.Options{
		ConfigMgr: configMgr,
		Stream:    stream,
		Snapshots: snapshots,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Str("source", src.Name()).
		Str("segmenter", seg.Name()).
		Msgf("Backdrop is running, viewer at http://localhost:%d", cfg.ServerPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}

	if err := src.Stop(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop capture")
	}
	<-captureDone

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown failed")
	}
	if err := p.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Pipeline did not drain")
	}

	log.Info().
		Uint64("dropped", src.Dropped()).
		Interface("stats", p.Stats()).
		Msg("Stopped")
	return nil
}
