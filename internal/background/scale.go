package background

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/Backdrop/internal/config"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Scale resizes src to exactly width x height with the chosen interpolator.
// The result is always a fresh image.
func Scale(src *image.RGBA, width, height int, kind config.ScalerKind) (*image.RGBA, error) {
	if err := config.ValidateSize(width, height); err != nil {
		return nil, err
	}
	if src == nil || src.Rect.Empty() {
		return nil, fmt.Errorf("scale: empty source image")
	}

	if kind == config.ScalerLanczos {
		out := resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
		if rgba, ok := out.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
			return rgba, nil
		}
		return Flatten(out), nil
	}

	var scaler draw.Scaler
	switch kind {
	case config.ScalerNearest, "":
		scaler = draw.NearestNeighbor
	case config.ScalerBilinear:
		scaler = draw.ApproxBiLinear
	case config.ScalerCatmullRom:
		scaler = draw.CatmullRom
	default:
		return nil, fmt.Errorf("unknown scaler: %q", kind)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	scaler.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	return dst, nil
}

// Cache holds the source background and a copy scaled to the current
// target size. Scaled images are replaced, never mutated, so a reader may
// keep using the image it got while a rescale is in progress.
type Cache struct {
	mu     sync.RWMutex
	source *image.RGBA
	scaled *image.RGBA
	kind   config.ScalerKind
}

// NewCache scales src to width x height
func NewCache(src *image.RGBA, width, height int, kind config.ScalerKind) (*Cache, error) {
	scaled, err := Scale(src, width, height, kind)
	if err != nil {
		return nil, err
	}
	return &Cache{source: src, scaled: scaled, kind: kind}, nil
}

// Resize rescales the current source to width x height
func (c *Cache) Resize(width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scaled, err := Scale(c.source, width, height, c.kind)
	if err != nil {
		return err
	}
	c.scaled = scaled
	return nil
}

// SetSource replaces the source image and rescales it to the current size
func (c *Cache) SetSource(src *image.RGBA) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.scaled.Rect.Size()
	scaled, err := Scale(src, size.X, size.Y, c.kind)
	if err != nil {
		return err
	}
	c.source = src
	c.scaled = scaled
	return nil
}

// Scaled returns the background at the current target size
func (c *Cache) Scaled() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scaled
}

// Size returns the current target size
func (c *Cache) Size() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scaled.Rect.Dx(), c.scaled.Rect.Dy()
}
