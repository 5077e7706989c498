package bridge

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/render"
	"golang.org/x/image/draw"
)

// ToColorImage decodes a frame into an upright RGBA image
func ToColorImage(f *Frame) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	b := f.Buffer.Rect
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, f.Buffer, b.Min, draw.Src)

	return Rotate(rgba, f.Rotation), nil
}

// Bridge converts composited images back into frames on the rendering context
type Bridge struct {
	rc   *render.Context
	conv *render.YUVConverter
}

// New creates a bridge that performs texture work on rc
func New(rc *render.Context) *Bridge {
	return &Bridge{
		rc:   rc,
		conv: render.NewYUVConverter(),
	}
}

// ToOutputFrame uploads img to a texture on the rendering context, reads it
// back as I420, and tags the result with ts. The output is already upright.
// The texture never outlives this call.
func (b *Bridge) ToOutputFrame(ctx context.Context, img *image.RGBA, ts time.Duration) (*Frame, error) {
	if img == nil || img.Rect.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidFrame)
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	var buf *image.YCbCr
	err := b.rc.Invoke(ctx, func(gl *render.GL) error {
		return gl.WithTexture(w, h, func(tex *render.Texture) error {
			if err := tex.Upload(img); err != nil {
				return fmt.Errorf("upload texture: %w", err)
			}
			out, err := b.conv.Convert(tex)
			if err != nil {
				return fmt.Errorf("convert texture: %w", err)
			}
			buf = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return &Frame{Buffer: buf, Rotation: 0, Timestamp: ts}, nil
}

// Rotate turns img clockwise by degrees (0, 90, 180 or 270)
func Rotate(img *image.RGBA, degrees int) *image.RGBA {
	if degrees == 0 {
		return img
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	dw, dh := w, h
	if degrees%180 != 0 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch degrees {
			case 90:
				dx, dy = h-1-y, x
			case 180:
				dx, dy = w-1-x, h-1-y
			case 270:
				dx, dy = y, w-1-x
			}
			si := img.PixOffset(x, y)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], img.Pix[si:si+4])
		}
	}
	return dst
}
