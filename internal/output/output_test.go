package output

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T, w, h int, ts time.Duration) *bridge.Frame {
	t.Helper()
	buf := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for i := range buf.Y {
		buf.Y[i] = 120
	}
	for i := range buf.Cb {
		buf.Cb[i] = 128
		buf.Cr[i] = 128
	}
	f, err := bridge.NewFrame(buf, 0, ts)
	require.NoError(t, err)
	return f
}

func TestMJPEGIgnoresFramesWhenStopped(t *testing.T) {
	logger.Discard()
	m := NewMJPEGOutput(Config{Width: 8, Height: 8, FPS: 30})

	m.OnFrame(testFrame(t, 8, 8, 0))
	assert.Nil(t, m.LastJPEG())
	assert.Equal(t, uint64(0), m.Stats().Frames)
}

func TestMJPEGEncodesFrames(t *testing.T) {
	logger.Discard()
	m := NewMJPEGOutput(Config{Width: 8, Height: 6, FPS: 30, JPEGQuality: 80})
	require.NoError(t, m.Start())
	defer m.Stop()

	assert.Error(t, m.Start(), "double start")

	m.OnFrame(testFrame(t, 8, 6, time.Second))

	data := m.LastJPEG()
	require.NotNil(t, data)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())

	stats := m.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, 0, stats.Clients)
}

func TestMJPEGEncodesRotatedFramesUpright(t *testing.T) {
	logger.Discard()
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())
	defer m.Stop()

	f := testFrame(t, 8, 4, 0)
	f.Rotation = 90
	m.OnFrame(f)

	img, err := jpeg.Decode(bytes.NewReader(m.LastJPEG()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 8), img.Bounds())
}

func TestMJPEGCountsInvalidFrames(t *testing.T) {
	logger.Discard()
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())
	defer m.Stop()

	m.OnFrame(&bridge.Frame{})
	assert.Equal(t, uint64(1), m.Stats().EncodeErrors)
	assert.Nil(t, m.LastJPEG())
}

func TestMJPEGStreamHandler(t *testing.T) {
	logger.Discard()
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())
	defer m.Stop()

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	require.Eventually(t, func() bool { return m.Stats().Clients == 1 }, 2*time.Second, 10*time.Millisecond)
	m.OnFrame(testFrame(t, 4, 4, 0))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
}

func TestMJPEGStreamRejectsWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshotter(t *testing.T) {
	logger.Discard()
	dir := filepath.Join(t.TempDir(), "snaps")
	s := NewSnapshotter(dir)

	_, err := s.Save()
	assert.ErrorIs(t, err, ErrNoFrame)

	s.OnFrame(testFrame(t, 6, 4, 0))
	path, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 4), img.Bounds())
}

func TestFanout(t *testing.T) {
	var got []time.Duration
	record := SinkFunc(func(f *bridge.Frame) { got = append(got, f.Timestamp) })

	Fanout{record, nil, record}.OnFrame(testFrame(t, 2, 2, 7))
	assert.Equal(t, []time.Duration{7, 7}, got)
}
