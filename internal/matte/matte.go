// Package matte turns a segmentation likelihood field into a per-pixel
// opacity map for the substitute background.
package matte

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrEmptyField is returned for zero-sized, oversized or inconsistent
// likelihood fields
var ErrEmptyField = errors.New("likelihood field is empty")

const (
	// BackgroundThreshold is the likelihood above which a pixel is pure background
	BackgroundThreshold = 0.9
	// ForegroundThreshold is the likelihood at or below which a pixel is pure foreground
	ForegroundThreshold = 0.2

	// Ramp coefficients: alpha is 0 at p=0.2 and 128 at p=0.9
	rampSlope  = 182.9
	rampOffset = -36.6
)

// Carrier is the RGB written into every matte pixel. Only alpha is consumed
// downstream.
var Carrier = color.NRGBA{R: 255, G: 0, B: 255}

// LikelihoodField is the per-pixel background probability produced by a
// segmenter, row-major, one value per pixel.
type LikelihoodField struct {
	Width  int
	Height int
	Values []float32
}

// NewLikelihoodField allocates a zeroed field
func NewLikelihoodField(width, height int) *LikelihoodField {
	return &LikelihoodField{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
	}
}

// At returns the likelihood at (x, y)
func (f *LikelihoodField) At(x, y int) float32 {
	return f.Values[y*f.Width+x]
}

// MaxFieldPixels bounds Width*Height of a field; 8K video is well under it
const MaxFieldPixels = 1 << 26

// Validate checks dimensions and backing storage agree
func (f *LikelihoodField) Validate() error {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return ErrEmptyField
	}
	if f.Width > MaxFieldPixels/f.Height {
		return fmt.Errorf("%w: %dx%d field exceeds %d pixels", ErrEmptyField, f.Width, f.Height, MaxFieldPixels)
	}
	if len(f.Values) != f.Width*f.Height {
		return fmt.Errorf("%w: %dx%d field has %d values", ErrEmptyField, f.Width, f.Height, len(f.Values))
	}
	return nil
}

// Matte is the classifier output. Alpha encodes how much of the substitute
// background shows through: 255 is pure background, 0 is pure foreground.
type Matte struct {
	*image.NRGBA
}

// Width returns the matte width in pixels
func (m *Matte) Width() int { return m.Rect.Dx() }

// Height returns the matte height in pixels
func (m *Matte) Height() int { return m.Rect.Dy() }

// AlphaAt returns the matte alpha at (x, y) relative to the matte origin
func (m *Matte) AlphaAt(x, y int) uint8 {
	return m.Pix[y*m.Stride+x*4+3]
}

// Alpha maps one background likelihood to matte alpha.
//
//	p > 0.9        -> 255
//	0.2 < p <= 0.9 -> int(182.9p - 36.6 + 0.5), clamped to [0,255]
//	p <= 0.2       -> 0
func Alpha(p float32) uint8 {
	switch {
	case p > BackgroundThreshold:
		return 255
	case p > ForegroundThreshold:
		d := rampSlope*float64(p) + rampOffset + 0.5
		if d <= 0 {
			return 0
		}
		if d >= 255 {
			return 255
		}
		return uint8(d)
	default:
		return 0
	}
}

// Classify builds a matte from a likelihood field. Pixels at or below the
// foreground threshold are left fully transparent.
func Classify(field *LikelihoodField) (*Matte, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, field.Width, field.Height))
	for y := 0; y < field.Height; y++ {
		row := y * img.Stride
		src := field.Values[y*field.Width : (y+1)*field.Width]
		for x, p := range src {
			a := Alpha(p)
			if a == 0 {
				continue
			}
			i := row + x*4
			img.Pix[i+0] = Carrier.R
			img.Pix[i+1] = Carrier.G
			img.Pix[i+2] = Carrier.B
			img.Pix[i+3] = a
		}
	}

	return &Matte{NRGBA: img}, nil
}
