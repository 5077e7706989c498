// Package composite blends a substitute background into a camera frame
// through a matte.
package composite

import (
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/Backdrop/internal/matte"
	"golang.org/x/image/draw"
)

// ErrDimensionMismatch is returned when matte, background and frame sizes differ
var ErrDimensionMismatch = errors.New("matte, background and frame dimensions differ")

// Composite produces an opaque image where the matte alpha selects the
// background over the original frame.
//
// Pass 1 clips the background to the matte alpha (source-in). Pass 2 paints
// the original underneath whatever pass 1 left uncovered (destination-over):
//
//	out = bg*a + orig*(1-a), a = matte alpha / 255
//
// The background is expected to be opaque.
func Composite(m *matte.Matte, background, original *image.RGBA) (*image.RGBA, error) {
	if m == nil || background == nil || original == nil {
		return nil, fmt.Errorf("%w: nil input", ErrDimensionMismatch)
	}

	size := m.Rect.Size()
	if background.Rect.Size() != size || original.Rect.Size() != size {
		return nil, fmt.Errorf("%w: matte %v, background %v, frame %v",
			ErrDimensionMismatch, size, background.Rect.Size(), original.Rect.Size())
	}

	out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))

	// Pass 1: source-in
	draw.DrawMask(out, out.Rect, background, background.Rect.Min, m.NRGBA, m.Rect.Min, draw.Src)

	// Pass 2: destination-over
	for y := 0; y < size.Y; y++ {
		oi := out.PixOffset(0, y)
		si := original.PixOffset(original.Rect.Min.X, original.Rect.Min.Y+y)
		mi := m.PixOffset(m.Rect.Min.X, m.Rect.Min.Y+y)
		for x := 0; x < size.X; x++ {
			a := uint32(m.Pix[mi+3])
			inv := 255 - a
			d := out.Pix[oi : oi+4 : oi+4]
			s := original.Pix[si : si+4 : si+4]
			d[0] = addClamp(d[0], (uint32(s[0])*inv+127)/255)
			d[1] = addClamp(d[1], (uint32(s[1])*inv+127)/255)
			d[2] = addClamp(d[2], (uint32(s[2])*inv+127)/255)
			d[3] = 255
			oi += 4
			si += 4
			mi += 4
		}
	}

	return out, nil
}

func addClamp(a uint8, b uint32) uint8 {
	v := uint32(a) + b
	if v > 255 {
		return 255
	}
	return uint8(v)
}
