package render

import (
	"image"
	"image/color"
)

// YUVConverter reads a texture back as planar 4:2:0 YCbCr (I420)
type YUVConverter struct{}

// NewYUVConverter creates a converter
func NewYUVConverter() *YUVConverter {
	return &YUVConverter{}
}

// Convert reads t into a new I420 buffer. Luma is per pixel; each chroma
// sample averages the 2x2 block it covers (fewer at odd edges).
func (c *YUVConverter) Convert(t *Texture) (*image.YCbCr, error) {
	if t.released {
		return nil, ErrTextureReleased
	}
	if err := t.gl.check(); err != nil {
		return nil, err
	}

	return PlanarI420(t.pix, t.width, t.height), nil
}

// PlanarI420 converts tightly packed RGBA pixels (stride 4*w) to I420
func PlanarI420(pix []byte, w, h int) *image.YCbCr {
	out := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			yy, _, _ := color.RGBToYCbCr(pix[i], pix[i+1], pix[i+2])
			out.Y[y*out.YStride+x] = yy
		}
	}

	cw, ch := (w+1)/2, (h+1)/2
	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var r, g, b, n uint32
			for dy := 0; dy < 2; dy++ {
				py := cy*2 + dy
				if py >= h {
					break
				}
				for dx := 0; dx < 2; dx++ {
					px := cx*2 + dx
					if px >= w {
						break
					}
					i := (py*w + px) * 4
					r += uint32(pix[i])
					g += uint32(pix[i+1])
					b += uint32(pix[i+2])
					n++
				}
			}
			_, cb, cr := color.RGBToYCbCr(uint8((r+n/2)/n), uint8((g+n/2)/n), uint8((b+n/2)/n))
			out.Cb[cy*out.CStride+cx] = cb
			out.Cr[cy*out.CStride+cx] = cr
		}
	}

	return out
}
