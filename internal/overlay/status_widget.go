package overlay

import (
	"image"
	"image/color"
)

// Status is what the status badge shows
type Status struct {
	Text string
	OK   bool
}

// StatusFunc reports the current status. It is called once per render.
type StatusFunc func() Status

var (
	statusOK   = color.RGBA{46, 160, 67, 255}
	statusBad  = color.RGBA{207, 34, 46, 255}
	statusBack = color.RGBA{30, 30, 40, 220}
)

// StatusWidget draws a live status line with a colored dot
type StatusWidget struct {
	*BaseWidget
	source StatusFunc
}

// NewStatusWidget creates a status badge fed by source
func NewStatusWidget(id string, source StatusFunc, config map[string]interface{}) (*StatusWidget, error) {
	w := &StatusWidget{
		BaseWidget: NewBaseWidget(id, 8, 8, 0.9),
		source:     source,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns "status"
func (w *StatusWidget) Type() string {
	return "status"
}

// Render draws the badge
func (w *StatusWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() || w.source == nil {
		return nil
	}
	st := w.source()
	x, y := w.GetPosition()
	opacity := w.GetOpacity()

	const pad, dot = 4, 9
	height := face.Metrics().Height.Ceil()

	dotColor := statusBad
	if st.OK {
		dotColor = statusOK
	}

	bg := statusBack
	drawLabel(img, st.Text, x+dot+pad, y, pad, color.RGBA{255, 255, 255, 255}, &bg, opacity)
	DrawRectangle(img, x, y, dot+pad, height+pad*2, statusBack, opacity)
	DrawRectangle(img, x+pad, y+pad+(height-dot)/2, dot, dot, dotColor, opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *StatusWidget) GetConfig() map[string]interface{} {
	return w.commonConfig(w.Type())
}

// UpdateConfig applies position, opacity and enabled keys
func (w *StatusWidget) UpdateConfig(config map[string]interface{}) error {
	w.applyCommon(config)
	return nil
}
