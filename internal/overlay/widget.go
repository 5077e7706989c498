// Package overlay draws small text badges onto composited frames.
package overlay

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
)

// Widget is something the overlay manager can draw onto a frame
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto img at its configured position
	Render(img *image.RGBA) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// BaseWidget carries the fields every widget has. Render runs on pipeline
// goroutines while the API may reconfigure, so access goes through mu.
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// GetPosition returns the widget's position
func (w *BaseWidget) GetPosition() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.x, w.y
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.mu.Lock()
	w.x, w.y = x, y
	w.mu.Unlock()
}

// GetOpacity returns the widget's opacity
func (w *BaseWidget) GetOpacity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opacity
}

// SetOpacity sets the widget's opacity, clamped to [0, 1]
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	w.mu.Lock()
	w.opacity = opacity
	w.mu.Unlock()
}

// applyCommon reads the keys shared by all widget configs
func (w *BaseWidget) applyCommon(config map[string]interface{}) {
	if v, ok := config["x"]; ok {
		x, _ := getInt(v)
		w.mu.Lock()
		w.x = x
		w.mu.Unlock()
	}
	if v, ok := config["y"]; ok {
		y, _ := getInt(v)
		w.mu.Lock()
		w.y = y
		w.mu.Unlock()
	}
	if opacity, ok := config["opacity"].(float64); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

func (w *BaseWidget) commonConfig(kind string) map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return map[string]interface{}{
		"id":      w.id,
		"type":    kind,
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
	}
}

// BlendImage draws src over dst with its top-left corner at (x, y),
// scaling the source alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rectangle{Min: image.Pt(x, y), Max: image.Pt(x+sb.Dx(), y+sb.Dy())}
	draw.DrawMask(dst, r, src, sb.Min, opacityMask(opacity), image.Point{}, draw.Over)
}

// DrawRectangle fills a rectangle with c at the given opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	r := image.Rect(x, y, x+width, y+height)
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, opacityMask(opacity), image.Point{}, draw.Over)
}

func opacityMask(opacity float64) *image.Uniform {
	if opacity > 1 {
		opacity = 1
	}
	return image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
}

// getInt extracts an integer from YAML or JSON decoded values
func getInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case uint64:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

// getColor parses {r, g, b, a} maps; a defaults to 255
func getColor(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	r, _ := getInt(m["r"])
	g, _ := getInt(m["g"])
	b, _ := getInt(m["b"])
	a, ok := getInt(m["a"])
	if !ok {
		a = 255
	}
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)}, true
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": int(c.R), "g": int(c.G), "b": int(c.B), "a": int(c.A)}
}
