package render

import (
	"errors"
	"fmt"
	"image"
)

// ErrTextureReleased is returned when a released texture is used
var ErrTextureReleased = errors.New("texture released")

// GL is the handle to rendering state. It is only valid inside the Job or
// Invoke callback that received it.
type GL struct {
	ctx *Context
}

func (gl *GL) check() error {
	if gl == nil || gl.ctx == nil {
		return errors.New("GL handle used outside the render context")
	}
	return nil
}

// Texture is an RGBA texture owned by the rendering context
type Texture struct {
	id       uint32
	width    int
	height   int
	pix      []byte
	gl       *GL
	owner    *Context
	released bool
}

// NewTexture allocates a width x height RGBA texture. The caller must
// Release it before the current job returns; prefer WithTexture.
func (gl *GL) NewTexture(width, height int) (*Texture, error) {
	if err := gl.check(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid texture size %dx%d", width, height)
	}

	t := &Texture{
		id:     gl.ctx.nextID.Add(1),
		width:  width,
		height: height,
		pix:    make([]byte, width*height*4),
		gl:     gl,
		owner:  gl.ctx,
	}
	gl.ctx.live.Add(1)
	return t, nil
}

// WithTexture allocates a texture, runs fn, and releases the texture on
// every exit path including panics.
func (gl *GL) WithTexture(width, height int, fn func(t *Texture) error) error {
	t, err := gl.NewTexture(width, height)
	if err != nil {
		return err
	}
	defer t.Release()
	return fn(t)
}

// ID returns the texture name
func (t *Texture) ID() uint32 { return t.id }

// Size returns the texture dimensions
func (t *Texture) Size() (int, int) { return t.width, t.height }

// Upload copies img into the texture. img must match the texture size.
func (t *Texture) Upload(img *image.RGBA) error {
	if t.released {
		return ErrTextureReleased
	}
	if err := t.gl.check(); err != nil {
		return err
	}
	if img.Rect.Dx() != t.width || img.Rect.Dy() != t.height {
		return fmt.Errorf("upload %v into %dx%d texture", img.Rect.Size(), t.width, t.height)
	}

	rowBytes := t.width * 4
	for y := 0; y < t.height; y++ {
		src := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(t.pix[y*rowBytes:(y+1)*rowBytes], img.Pix[src:src+rowBytes])
	}
	return nil
}

// Release frees the texture. Idempotent.
func (t *Texture) Release() {
	if t.released {
		return
	}
	t.released = true
	t.pix = nil
	t.owner.live.Add(-1)
	t.owner.released.Add(1)
}
