package overlay

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// face is the only font the overlay ships; 7x13 pixels per glyph
var face = basicfont.Face7x13

// TextWidget draws a fixed label, optionally on a filled box
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA
	padding   int
}

// NewTextWidget creates a text widget from a config map
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 8, 8, 1.0),
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    4,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns "text"
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the label
func (w *TextWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() {
		return nil
	}
	w.mu.RLock()
	text, fg, bg, pad := w.text, w.textColor, w.bgColor, w.padding
	x, y, opacity := w.x, w.y, w.opacity
	w.mu.RUnlock()

	drawLabel(img, text, x, y, pad, fg, bg, opacity)
	return nil
}

// drawLabel renders text with its top-left corner at (x, y)
func drawLabel(img *image.RGBA, text string, x, y, pad int, fg color.RGBA, bg *color.RGBA, opacity float64) {
	if text == "" {
		return
	}
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	if bg != nil {
		DrawRectangle(img, x, y, width+pad*2, height+pad*2, *bg, opacity)
	}

	label := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: face.Metrics().Ascent},
	}
	d.DrawString(text)

	BlendImage(img, label, x+pad, y+pad, opacity)
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.commonConfig(w.Type())

	w.mu.RLock()
	defer w.mu.RUnlock()
	config["text"] = w.text
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

// UpdateConfig applies the keys present in config
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.applyCommon(config)

	w.mu.Lock()
	defer w.mu.Unlock()

	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	if padding, ok := getInt(config["padding"]); ok {
		if padding < 0 {
			return fmt.Errorf("padding must not be negative, got %d", padding)
		}
		w.padding = padding
	}
	if c, ok := getColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := getColor(config["background"]); ok {
		w.bgColor = &c
	}
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}

// GetText returns the current text
func (w *TextWidget) GetText() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// Validate ensures the widget configuration is valid
func (w *TextWidget) Validate() error {
	if w.GetText() == "" {
		return fmt.Errorf("text widget requires non-empty text")
	}
	return nil
}
