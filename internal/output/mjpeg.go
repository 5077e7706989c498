package output

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
)

// MJPEGOutput streams frames as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	frameMu    sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount   atomic.Uint64
	encodeErrors atomic.Uint64
	startTime    time.Time
}

// MJPEGStats is a point-in-time view of the stream
type MJPEGStats struct {
	Running      bool      `json:"running"`
	Frames       uint64    `json:"frames"`
	EncodeErrors uint64    `json:"encode_errors"`
	Clients      int       `json:"clients"`
	FPS          float64   `json:"fps"`
	LastUpdate   time.Time `json:"last_update"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = jpeg.DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output.
// The HTTP handler is registered separately via GetHTTPHandler().
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount.Store(0)

	logger.WithComponent("output").Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Int("quality", m.config.JPEGQuality).
		Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	// Close all client connections
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("output").Info().
		Uint64("frames", m.frameCount.Load()).
		Msg("MJPEG output stopped")
	return nil
}

// OnFrame encodes the frame and broadcasts it to all connected clients.
// Frames arriving while the output is stopped are ignored.
func (m *MJPEGOutput) OnFrame(frame *bridge.Frame) {
	if !m.IsRunning() {
		return
	}

	data, err := m.encode(frame)
	if err != nil {
		m.encodeErrors.Add(1)
		logger.WithComponent("output").Warn().Err(err).Msg("Failed to encode MJPEG frame")
		return
	}

	m.frameMu.Lock()
	m.lastJPEG = data
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.frameCount.Add(1)

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
}

// encode writes the frame as an upright JPEG. Upright I420 frames are
// encoded straight from the planes; rotated ones go through the bridge.
func (m *MJPEGOutput) encode(frame *bridge.Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	opts := &jpeg.Options{Quality: m.config.JPEGQuality}

	if frame.Rotation == 0 {
		if err := jpeg.Encode(buf, frame.Buffer, opts); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		return buf.Bytes(), nil
	}

	img, err := bridge.ToColorImage(frame)
	if err != nil {
		return nil, err
	}
	if err := jpeg.Encode(buf, img, opts); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastJPEG returns the most recently encoded frame, or nil
func (m *MJPEGOutput) LastJPEG() []byte {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.lastJPEG
}

// Stats returns stream statistics
func (m *MJPEGOutput) Stats() MJPEGStats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	lastUpdate := m.lastUpdate
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	clientCount := len(m.clients)
	m.clientsMu.RUnlock()

	frames := m.frameCount.Load()
	var fps float64
	if running && !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			fps = float64(frames) / elapsed
		}
	}

	return MJPEGStats{
		Running:      running,
		Frames:       frames,
		EncodeErrors: m.encodeErrors.Load(),
		Clients:      clientCount,
		FPS:          fps,
		LastUpdate:   lastUpdate,
	}
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream.
// Mount this at /stream or similar endpoint.
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2) // Buffer 2 frames

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("output")
		log.Info().Int("clients", clientCount).Msg("MJPEG client connected")

		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		defer func() {
			m.clientsMu.Lock()
			if _, ok := m.clients[frameChan]; ok {
				delete(m.clients, frameChan)
			}
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("MJPEG client disconnected")
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\r\n")
	return err
}

// GetViewerHandler returns an HTTP handler that displays the stream with a
// virtual background toggle
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Backdrop</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .fab {
            position: fixed;
            bottom: 24px;
            right: 24px;
            padding: 12px 18px;
            border-radius: 24px;
            border: none;
            background: rgba(70, 130, 180, 0.9);
            color: white;
            font-family: system-ui, sans-serif;
            font-size: 14px;
            cursor: pointer;
            box-shadow: 0 4px 12px rgba(0,0,0,0.4);
        }
        .fab.off { background: rgba(90, 90, 90, 0.9); }
        .stats {
            position: fixed;
            top: 12px;
            left: 12px;
            color: #9cdcfe;
            font-family: monospace;
            font-size: 12px;
            background: rgba(0,0,0,0.6);
            padding: 6px 10px;
            border-radius: 6px;
        }
    </style>
</head>
<body>
    <img src="/stream" alt="Backdrop Live Stream">
    <div class="stats" id="stats"></div>
    <button class="fab" id="vb" onclick="toggle()">Virtual background</button>
    <script>
        let enabled = false;

        function render() {
            document.getElementById('vb').classList.toggle('off', !enabled);
        }

        fetch('/api/pipeline').then(r => r.json()).then(cfg => {
            enabled = cfg.enabled;
            render();
        }).catch(console.error);

        function toggle() {
            fetch('/api/pipeline/enabled', {
                method: 'PUT',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ enabled: !enabled })
            }).then(r => r.json()).then(cfg => {
                enabled = cfg.enabled;
                render();
            }).catch(console.error);
        }

        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/api/stats/stream');
        ws.onmessage = ev => {
            const s = JSON.parse(ev.data);
            document.getElementById('stats').textContent =
                'frames ' + s.frames_received + ' | composites ' + s.composites_emitted +
                ' | seg ' + s.segmentation_latency_ms.toFixed(1) + 'ms';
        };
    </script>
</body>
</html>`
