// Package bridge converts between the planar frames of the video pipeline
// and the RGBA images the classifier and compositor work on.
package bridge

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrInvalidFrame is returned for frames without pixels or with bad geometry
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrUnsupportedFormat is returned for buffers that are not I420
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// Frame is one capture unit: an I420 buffer, the clockwise rotation needed
// to make it upright, and its capture timestamp. Frames are never mutated
// after construction.
type Frame struct {
	Buffer    *image.YCbCr
	Rotation  int
	Timestamp time.Duration
}

// NewFrame validates and wraps an I420 buffer
func NewFrame(buf *image.YCbCr, rotation int, ts time.Duration) (*Frame, error) {
	f := &Frame{Buffer: buf, Rotation: rotation, Timestamp: ts}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the frame carries a non-empty I420 buffer and a right-angle rotation
func (f *Frame) Validate() error {
	if f == nil || f.Buffer == nil {
		return fmt.Errorf("%w: no buffer", ErrInvalidFrame)
	}
	if f.Buffer.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		return fmt.Errorf("%w: subsample ratio %v", ErrUnsupportedFormat, f.Buffer.SubsampleRatio)
	}
	if f.Buffer.Rect.Empty() {
		return fmt.Errorf("%w: empty buffer", ErrInvalidFrame)
	}
	switch f.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation %d", ErrInvalidFrame, f.Rotation)
	}
	return nil
}

// Width returns the buffer width as stored
func (f *Frame) Width() int { return f.Buffer.Rect.Dx() }

// Height returns the buffer height as stored
func (f *Frame) Height() int { return f.Buffer.Rect.Dy() }

// RotatedWidth returns the width once rotation is applied
func (f *Frame) RotatedWidth() int {
	if f.Rotation%180 != 0 {
		return f.Height()
	}
	return f.Width()
}

// RotatedHeight returns the height once rotation is applied
func (f *Frame) RotatedHeight() int {
	if f.Rotation%180 != 0 {
		return f.Width()
	}
	return f.Height()
}

// I420Strides returns the row strides GStreamer uses for a raw I420 buffer
// of the given width: luma rounded up to 4 bytes, chroma likewise.
func I420Strides(width int) (yStride, cStride int) {
	yStride = roundUp4(width)
	cStride = roundUp4((width + 1) / 2)
	return yStride, cStride
}

// I420Size returns the byte size of a raw I420 buffer with GStreamer strides
func I420Size(width, height int) int {
	yStride, cStride := I420Strides(width)
	ch := (height + 1) / 2
	return yStride*height + 2*cStride*ch
}

// FromI420 wraps a raw I420 byte buffer (Y plane, then U, then V) as a frame.
// The planes alias data; the caller must not modify it afterwards.
func FromI420(data []byte, width, height, rotation int, ts time.Duration) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, width, height)
	}
	need := I420Size(width, height)
	if len(data) < need {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d I420, need %d", ErrInvalidFrame, len(data), width, height, need)
	}

	yStride, cStride := I420Strides(width)
	ch := (height + 1) / 2
	ySize := yStride * height
	cSize := cStride * ch

	buf := &image.YCbCr{
		Y:              data[:ySize:ySize],
		Cb:             data[ySize : ySize+cSize : ySize+cSize],
		Cr:             data[ySize+cSize : ySize+2*cSize : ySize+2*cSize],
		YStride:        yStride,
		CStride:        cStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}
	return NewFrame(buf, rotation, ts)
}

func roundUp4(n int) int {
	return (n + 3) &^ 3
}
