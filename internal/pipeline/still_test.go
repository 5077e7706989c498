package pipeline

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/Backdrop/internal/composite"
	"github.com/bryanchriswhite/Backdrop/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestStillWithChromaKey(t *testing.T) {
	ck, err := segment.NewChromaKey("#00ff00", 0.35)
	require.NoError(t, err)

	frame := solidRGBA(4, 2, color.RGBA{G: 255, A: 255})
	frame.SetRGBA(0, 0, gray)
	bg := solidRGBA(4, 2, red)

	out, err := Still(context.Background(), ck, frame, bg)
	require.NoError(t, err)

	assert.Equal(t, gray, out.RGBAAt(0, 0), "foreground kept")
	assert.Equal(t, red, out.RGBAAt(3, 1), "key color replaced")
}

func TestStillRejectsMismatchedBackground(t *testing.T) {
	_, err := Still(context.Background(), constantSegmenter(1), solidRGBA(4, 4, gray), solidRGBA(2, 2, red))
	assert.ErrorIs(t, err, composite.ErrDimensionMismatch)
}
