package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/logger"
	"github.com/bryanchriswhite/Backdrop/internal/matte"
	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/ksuid"
)

// CBOR tags used by the segmentation service (RFC 8746)
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagFloat32LE     = 85
)

// maxResponseBytes caps the size of a mask response
const maxResponseBytes = 64 << 20

// Remote calls an HTTP segmentation service. The frame is uploaded as a PNG
// in the multipart field "image"; the service answers with a CBOR document:
//
//	{
//	  "width": uint, "height": uint,
//	  "foreground": bool,            // values are foreground confidence
//	  "mask": 40([[rows, cols], 85(bytes)])  // or 64(bytes) scaled by 1/255
//	}
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a remote segmenter for url with a per-request timeout
func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Remote{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns "remote"
func (r *Remote) Name() string { return "remote" }

type maskResponse struct {
	Width      int      `cbor:"width"`
	Height     int      `cbor:"height"`
	Foreground bool     `cbor:"foreground"`
	Mask       cbor.Tag `cbor:"mask"`
}

// Segment uploads img and decodes the returned likelihood field
func (r *Remote) Segment(ctx context.Context, img *image.RGBA) (*matte.LikelihoodField, error) {
	requestID := ksuid.New().String()
	log := logger.WithComponent("segment")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", requestID+".png")
	if err != nil {
		return nil, fmt.Errorf("%w: create form file: %v", ErrSegmentation, err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("%w: encode frame: %v", ErrSegmentation, err)
	}
	if err := writer.WriteField("width", fmt.Sprint(img.Rect.Dx())); err != nil {
		return nil, fmt.Errorf("%w: write width: %v", ErrSegmentation, err)
	}
	if err := writer.WriteField("height", fmt.Sprint(img.Rect.Dy())); err != nil {
		return nil, fmt.Errorf("%w: write height: %v", ErrSegmentation, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: close form: %v", ErrSegmentation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/cbor")
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %v", ErrSegmentation, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrSegmentation, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSegmentation, err)
	}

	field, err := DecodeMask(data)
	if err != nil {
		return nil, err
	}
	if err := CheckField(field, img); err != nil {
		return nil, err
	}

	log.Debug().
		Str("request_id", requestID).
		Dur("latency", time.Since(start)).
		Int("bytes", len(data)).
		Msg("Segmentation response received")

	return field, nil
}

// DecodeMask decodes a CBOR mask response into a background likelihood field
func DecodeMask(data []byte) (*matte.LikelihoodField, error) {
	var resp maskResponse
	if err := cbor.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSegmentation, err)
	}

	rows, cols, values, err := decodeMaskTag(resp.Mask)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}
	if resp.Width == 0 && resp.Height == 0 {
		resp.Width, resp.Height = cols, rows
	}
	if rows != resp.Height || cols != resp.Width {
		return nil, fmt.Errorf("%w: mask %dx%d disagrees with header %dx%d",
			ErrSegmentation, cols, rows, resp.Width, resp.Height)
	}
	field := &matte.LikelihoodField{Width: cols, Height: rows, Values: values}
	if err := field.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}

	for i, v := range values {
		if math.IsNaN(float64(v)) {
			v = 0
		}
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		if resp.Foreground {
			v = 1 - v
		}
		values[i] = v
	}

	return field, nil
}

func decodeMaskTag(tag cbor.Tag) (rows, cols int, values []float32, err error) {
	switch tag.Number {
	case tagMultiDimArray:
	case tagUint8, tagFloat32LE:
		return 0, 0, nil, fmt.Errorf("flat typed array without dimensions")
	default:
		return 0, 0, nil, fmt.Errorf("expected multidim tag 40, got %d", tag.Number)
	}

	items, ok := tag.Content.([]interface{})
	if !ok || len(items) != 2 {
		return 0, 0, nil, fmt.Errorf("invalid multidim array content")
	}
	dims, ok := items[0].([]interface{})
	if !ok || len(dims) != 2 {
		return 0, 0, nil, fmt.Errorf("invalid multidim dimensions")
	}
	if rows, err = toInt(dims[0]); err != nil {
		return 0, 0, nil, err
	}
	if cols, err = toInt(dims[1]); err != nil {
		return 0, 0, nil, err
	}

	inner, ok := items[1].(cbor.Tag)
	if !ok {
		return 0, 0, nil, fmt.Errorf("expected typed array tag")
	}
	raw, ok := inner.Content.([]byte)
	if !ok {
		return 0, 0, nil, fmt.Errorf("unsupported typed array content %T", inner.Content)
	}

	switch inner.Number {
	case tagFloat32LE:
		if len(raw)%4 != 0 {
			return 0, 0, nil, fmt.Errorf("float32 array has %d bytes", len(raw))
		}
		values = make([]float32, len(raw)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case tagUint8:
		values = make([]float32, len(raw))
		for i, b := range raw {
			values[i] = float32(b) / 255
		}
	default:
		return 0, 0, nil, fmt.Errorf("unsupported typed array tag %d", inner.Number)
	}
	return rows, cols, values, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case uint64:
		return int(n), nil
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected dimension type %T", v)
	}
}

// EncodeMask builds a CBOR mask response. Segmentation services written in
// Go and the tests use it.
func EncodeMask(field *matte.LikelihoodField, foreground bool) ([]byte, error) {
	if err := field.Validate(); err != nil {
		return nil, err
	}
	raw := make([]byte, len(field.Values)*4)
	for i, v := range field.Values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	return cbor.Marshal(map[string]interface{}{
		"width":      field.Width,
		"height":     field.Height,
		"foreground": foreground,
		"mask": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []interface{}{
				[]interface{}{field.Height, field.Width},
				cbor.Tag{Number: tagFloat32LE, Content: raw},
			},
		},
	})
}
