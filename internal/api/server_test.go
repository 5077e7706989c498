package api

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/config"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/bryanchriswhite/Backdrop/internal/output"
	"github.com/bryanchriswhite/Backdrop/internal/pipeline"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu    sync.Mutex
	cfg   config.PipelineConfig
	stats pipeline.Stats
}

func (f *fakePipeline) Config() config.PipelineConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakePipeline) SetEnabled(enabled bool) {
	f.mu.Lock()
	f.cfg.Enabled = enabled
	f.mu.Unlock()
}

func (f *fakePipeline) SetTargetSize(width, height int) error {
	if err := config.ValidateSize(width, height); err != nil {
		return err
	}
	f.mu.Lock()
	f.cfg.Width, f.cfg.Height = width, height
	f.mu.Unlock()
	return nil
}

func (f *fakePipeline) SetBackgroundSource(ctx context.Context, uri string) {
	f.mu.Lock()
	f.cfg.BackgroundURI = uri
	f.mu.Unlock()
}

func (f *fakePipeline) Stats() pipeline.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *fakePipeline) {
	t.Helper()
	logger.Discard()
	fp := &fakePipeline{cfg: config.PipelineConfig{Width: 640, Height: 480, Scaler: config.ScalerNearest}}
	srv := httptest.NewServer(NewServer(fp, opts).Handler())
	t.Cleanup(srv.Close)
	return srv, fp
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestPipelineControl(t *testing.T) {
	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	srv, fp := newTestServer(t, Options{ConfigMgr: mgr})

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		check      func(t *testing.T, body map[string]interface{})
	}{
		{"get", "GET", "/api/pipeline", "", http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, false, body["enabled"])
			assert.Equal(t, float64(640), body["width"])
		}},
		{"enable", "PUT", "/api/pipeline/enabled", `{"enabled": true}`, http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, true, body["enabled"])
			assert.True(t, mgr.Get().Pipeline.Enabled)
		}},
		{"enable missing field", "PUT", "/api/pipeline/enabled", `{}`, http.StatusBadRequest, nil},
		{"enable bad json", "PUT", "/api/pipeline/enabled", `{`, http.StatusBadRequest, nil},
		{"resize", "PUT", "/api/pipeline/size", `{"width": 320, "height": 240}`, http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, float64(320), body["width"])
			assert.Equal(t, 240, mgr.Get().Pipeline.Height)
		}},
		{"resize zero", "PUT", "/api/pipeline/size", `{"width": 0, "height": 240}`, http.StatusBadRequest, func(t *testing.T, body map[string]interface{}) {
			assert.Contains(t, body["error"], "positive")
			assert.Equal(t, 320, fp.Config().Width)
		}},
		{"background", "PUT", "/api/pipeline/background", `{"uri": "https://example.com/beach.jpg"}`, http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "https://example.com/beach.jpg", body["background_uri"])
			assert.Equal(t, "https://example.com/beach.jpg", mgr.Get().Pipeline.BackgroundURI)
		}},
		{"background null", "PUT", "/api/pipeline/background", `{"uri": null}`, http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "", fp.Config().BackgroundURI)
		}},
		{"wrong method", "POST", "/api/pipeline/size", `{}`, http.StatusMethodNotAllowed, nil},
		{"health", "GET", "/api/health", "", http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "healthy", body["status"])
		}},
		{"config", "GET", "/api/config", "", http.StatusOK, func(t *testing.T, body map[string]interface{}) {
			assert.Contains(t, body, "pipeline")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, _ := do(t, "OPTIONS", srv.URL+"/api/pipeline/size", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStats(t *testing.T) {
	srv, fp := newTestServer(t, Options{})
	fp.stats = pipeline.Stats{FramesReceived: 9, CompositesEmitted: 3}

	resp, body := do(t, "GET", srv.URL+"/api/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(9), body["frames_received"])
	assert.Equal(t, float64(3), body["composites_emitted"])

	resp, _ = do(t, "GET", srv.URL+"/api/stream/stats", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsWebSocket(t *testing.T) {
	srv, fp := newTestServer(t, Options{StatsInterval: 10 * time.Millisecond})
	fp.stats = pipeline.Stats{FramesReceived: 1}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stats/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first pipeline.Stats
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, uint64(1), first.FramesReceived)

	fp.mu.Lock()
	fp.stats.FramesReceived = 5
	fp.mu.Unlock()

	require.Eventually(t, func() bool {
		var next pipeline.Stats
		if err := conn.ReadJSON(&next); err != nil {
			return false
		}
		return next.FramesReceived == 5
	}, 2*time.Second, time.Millisecond)
}

func TestSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, _ := do(t, "POST", srv.URL+"/api/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	snaps := output.NewSnapshotter(t.TempDir())
	srv, _ = newTestServer(t, Options{Snapshots: snaps})

	resp, _ = do(t, "POST", srv.URL+"/api/snapshot", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	buf := image.NewYCbCr(image.Rect(0, 0, 4, 4), image.YCbCrSubsampleRatio420)
	frame, err := bridge.NewFrame(buf, 0, 0)
	require.NoError(t, err)
	snaps.OnFrame(frame)

	resp, body := do(t, "POST", srv.URL+"/api/snapshot", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, strings.HasSuffix(body["path"].(string), ".png"))
}

func TestStreamRoutes(t *testing.T) {
	stream := output.NewMJPEGOutput(output.Config{Width: 4, Height: 4, FPS: 30})
	require.NoError(t, stream.Start())
	defer stream.Stop()

	srv, _ := newTestServer(t, Options{Stream: stream})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, body := do(t, "GET", srv.URL+"/api/stream/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["running"])
}
