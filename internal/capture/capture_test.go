package capture

import (
	"testing"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/bridge"
	"github.com/bryanchriswhite/Backdrop/internal/config"
	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsSource(t *testing.T) {
	s := Settings{Device: "/dev/video2", Width: 64, Height: 48, FPS: 15}

	src, err := New(config.SourcePattern, s)
	require.NoError(t, err)
	assert.Equal(t, "pattern", src.Name())

	src, err = New(config.SourceCamera, s)
	require.NoError(t, err)
	assert.Equal(t, "camera", src.Name())

	_, err = New("screen", s)
	assert.Error(t, err)

	_, err = New(config.SourcePattern, Settings{Width: 0, Height: 48, FPS: 15})
	assert.ErrorIs(t, err, config.ErrInvalidSize)

	_, err = New(config.SourcePattern, Settings{Width: 64, Height: 48})
	assert.Error(t, err)
}

func TestLaunchString(t *testing.T) {
	g := NewGStreamerSource(Settings{Device: "/dev/video2", Width: 640, Height: 480, FPS: 30})
	launch := g.LaunchString()

	assert.Contains(t, launch, "v4l2src device=/dev/video2")
	assert.Contains(t, launch, "video/x-raw,format=I420,width=640,height=480,framerate=30/1")
	assert.Contains(t, launch, "appsink name=sink")

	assert.Contains(t, NewGStreamerSource(Settings{Width: 1, Height: 1, FPS: 1}).LaunchString(), "/dev/video0")
}

func TestPatternRender(t *testing.T) {
	p := NewPatternSource(Settings{Width: 64, Height: 48, FPS: 30})

	f, err := p.Render(250 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, f.Timestamp)
	assert.Equal(t, 64, f.Width())
	assert.Equal(t, 48, f.Height())

	img, err := bridge.ToColorImage(f)
	require.NoError(t, err)

	corner := img.RGBAAt(1, 1)
	assert.InDelta(t, PatternBackdrop.G, corner.G, 3)
	assert.InDelta(t, PatternBackdrop.R, corner.R, 3)

	subject := img.RGBAAt(32, 47)
	assert.InDelta(t, PatternSubject.R, subject.R, 3)
	assert.InDelta(t, PatternSubject.G, subject.G, 3)
}

func TestPatternRenderRotated(t *testing.T) {
	for _, rotation := range []int{90, 180, 270} {
		p := NewPatternSource(Settings{Width: 64, Height: 48, FPS: 30, Rotation: rotation})
		f, err := p.Render(0)
		require.NoError(t, err)
		assert.Equal(t, rotation, f.Rotation)

		img, err := bridge.ToColorImage(f)
		require.NoError(t, err)
		assert.Equal(t, 64, img.Rect.Dx(), "rotation %d", rotation)
		assert.Equal(t, 48, img.Rect.Dy(), "rotation %d", rotation)
		assert.InDelta(t, PatternSubject.R, img.RGBAAt(32, 47).R, 3, "rotation %d", rotation)
		assert.InDelta(t, PatternBackdrop.G, img.RGBAAt(1, 1).G, 3, "rotation %d", rotation)
	}
}

func TestPatternSourceDeliversFrames(t *testing.T) {
	logger.Discard()
	p := NewPatternSource(Settings{Width: 16, Height: 16, FPS: 100})
	require.NoError(t, p.Start())
	assert.Error(t, p.Start())

	var last time.Duration = -1
	for i := 0; i < 3; i++ {
		select {
		case f := <-p.Frames():
			require.NotNil(t, f)
			assert.Greater(t, f.Timestamp, last)
			last = f.Timestamp
		case <-time.After(2 * time.Second):
			t.Fatal("no frame from pattern source")
		}
	}

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	for range p.Frames() {
	}
}
