// Package segment defines the segmentation collaborator: given an RGBA
// image it reports, per pixel, the likelihood that the pixel is background.
package segment

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/Backdrop/internal/matte"
)

// ErrSegmentation wraps every segmenter failure
var ErrSegmentation = errors.New("segmentation failed")

// Segmenter computes a background likelihood field for an image. The field
// must have the same width and height as img. Implementations must be safe
// for concurrent use; the pipeline calls Segment from its own goroutines.
type Segmenter interface {
	Segment(ctx context.Context, img *image.RGBA) (*matte.LikelihoodField, error)
	Name() string
}

// Func adapts a plain function to Segmenter
type Func func(ctx context.Context, img *image.RGBA) (*matte.LikelihoodField, error)

// Segment calls f
func (f Func) Segment(ctx context.Context, img *image.RGBA) (*matte.LikelihoodField, error) {
	return f(ctx, img)
}

// Name returns "func"
func (f Func) Name() string { return "func" }

// CheckField verifies a segmenter result matches the image it came from
func CheckField(field *matte.LikelihoodField, img *image.RGBA) error {
	if err := field.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrSegmentation, err)
	}
	if field.Width != img.Rect.Dx() || field.Height != img.Rect.Dy() {
		return fmt.Errorf("%w: field %dx%d for %dx%d image",
			ErrSegmentation, field.Width, field.Height, img.Rect.Dx(), img.Rect.Dy())
	}
	return nil
}
