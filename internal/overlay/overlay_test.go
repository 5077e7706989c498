package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blackImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	return img
}

func countChanged(img *image.RGBA) int {
	n := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 || img.Pix[i+1] != 0 || img.Pix[i+2] != 0 {
			n++
		}
	}
	return n
}

func TestBlendImage(t *testing.T) {
	tests := []struct {
		name    string
		opacity float64
		want    uint8
	}{
		{"opaque", 1, 200},
		{"half", 0.5, 100},
		{"invisible", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := blackImage(4, 4)
			src := image.NewRGBA(image.Rect(0, 0, 2, 2))
			draw.Draw(src, src.Bounds(), image.NewUniform(color.RGBA{R: 200, A: 255}), image.Point{}, draw.Src)

			BlendImage(dst, src, 1, 1, tt.opacity)

			assert.InDelta(t, tt.want, dst.RGBAAt(1, 1).R, 1)
			assert.InDelta(t, tt.want, dst.RGBAAt(2, 2).R, 1)
			assert.Equal(t, uint8(0), dst.RGBAAt(0, 0).R)
			assert.Equal(t, uint8(0), dst.RGBAAt(3, 3).R)
			assert.Equal(t, uint8(255), dst.RGBAAt(1, 1).A)
		})
	}
}

func TestBlendImageClips(t *testing.T) {
	dst := blackImage(4, 4)
	src := image.NewRGBA(image.Rect(0, 0, 3, 3))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.RGBA{G: 255, A: 255}), image.Point{}, draw.Src)

	BlendImage(dst, src, 2, 2, 1)
	assert.Equal(t, uint8(255), dst.RGBAAt(3, 3).G)
	assert.Equal(t, 4, countChanged(dst))
}

func TestTextWidgetDrawsText(t *testing.T) {
	w, err := NewTextWidget("vb", map[string]interface{}{
		"text":       "VB ON",
		"x":          2,
		"y":          2.0,
		"background": map[string]interface{}{"r": 10, "g": 10, "b": 10},
	})
	require.NoError(t, err)

	img := blackImage(80, 30)
	require.NoError(t, w.Render(img))
	assert.Greater(t, countChanged(img), 0)

	cfg := w.GetConfig()
	assert.Equal(t, "VB ON", cfg["text"])
	assert.Equal(t, 2, cfg["y"])
	assert.Equal(t, map[string]interface{}{"r": 10, "g": 10, "b": 10, "a": 255}, cfg["background"])
}

func TestTextWidgetRequiresText(t *testing.T) {
	_, err := NewTextWidget("empty", map[string]interface{}{})
	assert.Error(t, err)
}

func TestStatusWidget(t *testing.T) {
	calls := 0
	source := func() Status {
		calls++
		return Status{Text: "segmenting", OK: true}
	}
	w, err := NewStatusWidget("status", source, nil)
	require.NoError(t, err)

	img := blackImage(120, 30)
	require.NoError(t, w.Render(img))
	assert.Equal(t, 1, calls)
	assert.Greater(t, countChanged(img), 0)

	w.SetEnabled(false)
	require.NoError(t, w.Render(img))
	assert.Equal(t, 1, calls)
}

func TestManager(t *testing.T) {
	logger.Discard()
	m := NewManager(true, func() Status { return Status{Text: "ok", OK: true} })

	m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "label", "text": "hello"},
		{"type": "status", "id": "badge", "y": 20},
		{"type": "github-actions", "id": "ci"},
		{"id": "no-type"},
	})

	widgets := m.GetAllWidgets()
	require.Len(t, widgets, 2)
	assert.Equal(t, "label", widgets[0].ID())
	assert.Equal(t, "badge", widgets[1].ID())

	assert.Error(t, m.AddWidget(widgets[0]), "duplicate id")

	require.NoError(t, m.UpdateWidget("label", map[string]interface{}{"text": "bye"}))
	assert.Equal(t, "bye", m.ExportConfig()[0]["text"])
	assert.Error(t, m.UpdateWidget("missing", nil))

	img := blackImage(100, 50)
	require.NoError(t, m.Render(img))
	assert.Greater(t, countChanged(img), 0)

	m.SetEnabled(false)
	img = blackImage(100, 50)
	require.NoError(t, m.Render(img))
	assert.Equal(t, 0, countChanged(img))

	require.NoError(t, m.RemoveWidget("label"))
	assert.Error(t, m.RemoveWidget("label"))
	_, ok := m.GetWidget("badge")
	assert.True(t, ok)

	m.Clear()
	assert.Empty(t, m.GetAllWidgets())
}
