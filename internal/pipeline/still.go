package pipeline

import (
	"context"
	"image"

	"github.com/bryanchriswhite/Backdrop/internal/composite"
	"github.com/bryanchriswhite/Backdrop/internal/matte"
	"github.com/bryanchriswhite/Backdrop/internal/segment"
)

// Still composites a single image onto bg, which must already have the
// same size. It runs the same segment, classify and composite steps as a
// live frame, synchronously and without the frame bridge.
func Still(ctx context.Context, seg segment.Segmenter, frame, bg *image.RGBA) (*image.RGBA, error) {
	field, err := seg.Segment(ctx, frame)
	if err != nil {
		return nil, err
	}
	if err := segment.CheckField(field, frame); err != nil {
		return nil, err
	}

	m, err := matte.Classify(field)
	if err != nil {
		return nil, err
	}
	return composite.Composite(m, bg, frame)
}
