package segment

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bryanchriswhite/Backdrop/internal/matte"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maskServer(t *testing.T, respond func(w http.ResponseWriter, img image.Image)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		file, _, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		img, _, err := image.Decode(file)
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, strconv.Itoa(img.Bounds().Dx()), r.FormValue("width"))
		assert.Equal(t, strconv.Itoa(img.Bounds().Dy()), r.FormValue("height"))
		respond(w, img)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteSegmentFloatMask(t *testing.T) {
	srv := maskServer(t, func(w http.ResponseWriter, img image.Image) {
		b := img.Bounds()
		field := matte.NewLikelihoodField(b.Dx(), b.Dy())
		for i := range field.Values {
			field.Values[i] = 0.25
		}
		field.Values[0] = 1

		data, err := EncodeMask(field, false)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(data)
	})

	r := NewRemote(srv.URL, time.Second)
	field, err := r.Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 3)))
	require.NoError(t, err)

	assert.Equal(t, 4, field.Width)
	assert.Equal(t, 3, field.Height)
	assert.Equal(t, float32(1), field.At(0, 0))
	assert.Equal(t, float32(0.25), field.At(3, 2))
	assert.Equal(t, "remote", r.Name())
}

func TestRemoteSegmentForegroundIsInverted(t *testing.T) {
	srv := maskServer(t, func(w http.ResponseWriter, img image.Image) {
		field := matte.NewLikelihoodField(2, 1)
		field.Values = []float32{1, 0.25}
		data, err := EncodeMask(field, true)
		require.NoError(t, err)
		_, _ = w.Write(data)
	})

	field, err := NewRemote(srv.URL, time.Second).Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 1)))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.75}, field.Values)
}

func TestRemoteSegmentErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "not cbor")
		}},
		{"wrong size", func(w http.ResponseWriter, r *http.Request) {
			data, _ := EncodeMask(&matte.LikelihoodField{Width: 1, Height: 1, Values: []float32{1}}, false)
			_, _ = w.Write(data)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewRemote(srv.URL, time.Second).Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
			assert.ErrorIs(t, err, ErrSegmentation)
		})
	}
}

func TestRemoteSegmentTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewRemote(srv.URL, 50*time.Millisecond).Segment(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	assert.ErrorIs(t, err, ErrSegmentation)
}

func TestDecodeMaskUint8(t *testing.T) {
	data, err := cbor.Marshal(map[string]interface{}{
		"width":  2,
		"height": 1,
		"mask": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []interface{}{
				[]interface{}{1, 2},
				cbor.Tag{Number: tagUint8, Content: []byte{255, 0}},
			},
		},
	})
	require.NoError(t, err)

	field, err := DecodeMask(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, field.Values)
}

func TestDecodeMaskClampsValues(t *testing.T) {
	field := &matte.LikelihoodField{Width: 2, Height: 1, Values: []float32{-0.5, 3}}
	data, err := EncodeMask(field, false)
	require.NoError(t, err)

	decoded, err := DecodeMask(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, decoded.Values)
}

func TestDecodeMaskRejectsFlatArray(t *testing.T) {
	data, err := cbor.Marshal(map[string]interface{}{
		"width":  1,
		"height": 1,
		"mask":   cbor.Tag{Number: tagUint8, Content: []byte{1}},
	})
	require.NoError(t, err)

	_, err = DecodeMask(data)
	assert.ErrorIs(t, err, ErrSegmentation)
}

func TestDecodeMaskRejectsHugeDimensions(t *testing.T) {
	data, err := cbor.Marshal(map[string]interface{}{
		"mask": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []interface{}{
				[]interface{}{uint64(1) << 32, uint64(1) << 32},
				cbor.Tag{Number: tagUint8, Content: []byte{}},
			},
		},
	})
	require.NoError(t, err)

	_, err = DecodeMask(data)
	assert.ErrorIs(t, err, ErrSegmentation)
	assert.ErrorContains(t, err, "exceeds")
}
