package segment

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/Backdrop/internal/matte"
)

// maxRGBDistance is the diagonal of the RGB cube
var maxRGBDistance = math.Sqrt(3 * 255 * 255)

// ChromaKey treats pixels close to a key color as background. Pixels within
// half the tolerance are certain background, pixels beyond the tolerance are
// certain foreground, and the likelihood falls off linearly in between.
type ChromaKey struct {
	Key       color.RGBA
	Tolerance float64 // normalized RGB distance in (0, 1]
}

// NewChromaKey parses a hex key color such as "#00ff00"
func NewChromaKey(hex string, tolerance float64) (*ChromaKey, error) {
	key, err := ParseHexColor(hex)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 || tolerance > 1 {
		return nil, fmt.Errorf("chroma key tolerance must be in (0,1], got %v", tolerance)
	}
	return &ChromaKey{Key: key, Tolerance: tolerance}, nil
}

// Name returns "chromakey"
func (c *ChromaKey) Name() string { return "chromakey" }

// Segment computes the likelihood field synchronously
func (c *ChromaKey) Segment(ctx context.Context, img *image.RGBA) (*matte.LikelihoodField, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrSegmentation)
	}

	field := matte.NewLikelihoodField(w, h)
	inner := c.Tolerance / 2
	for y := 0; y < h; y++ {
		i := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			dr := float64(img.Pix[i]) - float64(c.Key.R)
			dg := float64(img.Pix[i+1]) - float64(c.Key.G)
			db := float64(img.Pix[i+2]) - float64(c.Key.B)
			d := math.Sqrt(dr*dr+dg*dg+db*db) / maxRGBDistance

			var p float64
			switch {
			case d <= inner:
				p = 1
			case d >= c.Tolerance:
				p = 0
			default:
				p = (c.Tolerance - d) / (c.Tolerance - inner)
			}
			field.Values[y*w+x] = float32(p)
			i += 4
		}
	}
	return field, nil
}

// ParseHexColor parses "#rrggbb" or "rrggbb"
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
