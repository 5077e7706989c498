// Package background loads the substitute background image and keeps a copy
// scaled to the pipeline's target size.
package background

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/logger"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrLoad wraps every failure to fetch or decode a background
var ErrLoad = errors.New("background load failed")

// maxImageBytes caps remote downloads
const maxImageBytes = 32 << 20

var (
	defaultOnce  sync.Once
	defaultImage *image.RGBA
)

// Default returns the bundled fallback background: a vertical blue-violet
// gradient. The returned image is shared and must not be modified.
func Default() *image.RGBA {
	defaultOnce.Do(func() {
		const w, h = 640, 480
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		top := color.RGBA{R: 24, G: 42, B: 92, A: 255}
		bottom := color.RGBA{R: 112, G: 64, B: 140, A: 255}
		for y := 0; y < h; y++ {
			t := float64(y) / float64(h-1)
			c := color.RGBA{
				R: lerp(top.R, bottom.R, t),
				G: lerp(top.G, bottom.G, t),
				B: lerp(top.B, bottom.B, t),
				A: 255,
			}
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, c)
			}
		}
		defaultImage = img
	})
	return defaultImage
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

// Loader fetches background images from URLs or the local filesystem
type Loader struct {
	client *http.Client
}

// NewLoader creates a loader. A nil client gets a 15s timeout default.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Loader{client: client}
}

// Load returns the image at uri, or the bundled default when uri is empty
// or anything goes wrong. It never fails.
func (l *Loader) Load(ctx context.Context, uri string) *image.RGBA {
	log := logger.WithComponent("background")

	if uri == "" {
		log.Info().Msg("No background set, using bundled default")
		return Default()
	}

	img, err := l.Fetch(ctx, uri)
	if err != nil {
		log.Info().Err(err).Str("uri", uri).Msg("Background load failed, using bundled default")
		return Default()
	}

	log.Info().
		Str("uri", uri).
		Int("width", img.Rect.Dx()).
		Int("height", img.Rect.Dy()).
		Msg("Background loaded")
	return img
}

// Fetch loads and decodes the image at uri into an opaque RGBA image.
// Supported forms: http(s) URLs, file:// URLs and plain paths.
func (l *Loader) Fetch(ctx context.Context, uri string) (*image.RGBA, error) {
	var (
		data []byte
		err  error
	)

	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		data, err = l.download(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		u, perr := url.Parse(uri)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoad, perr)
		}
		data, err = os.ReadFile(u.Path)
	default:
		data, err = os.ReadFile(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrLoad, err)
	}

	logger.WithComponent("background").Debug().
		Str("uri", uri).
		Str("format", format).
		Msg("Background decoded")

	return Flatten(img), nil
}

func (l *Loader) download(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}

// Flatten converts any image into an opaque RGBA image anchored at the
// origin, compositing transparent areas over black.
func Flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, image.Black, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Over)
	return dst
}
