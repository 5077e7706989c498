package matte

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphaBands(t *testing.T) {
	tests := []struct {
		p    float32
		want uint8
	}{
		{0, 0},
		{0.1, 0},
		{0.2, 0},
		{0.5, 55},
		{0.9, 128},
		{0.9001, 255},
		{0.95, 255},
		{1, 255},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Alpha(tt.p), "p=%v", tt.p)
	}
}

func TestAlphaMonotonic(t *testing.T) {
	prev := Alpha(0)
	for i := 1; i <= 10000; i++ {
		p := float32(i) / 10000
		a := Alpha(p)
		assert.GreaterOrEqual(t, a, prev, "alpha decreased at p=%v", p)
		if p > ForegroundThreshold && p <= BackgroundThreshold {
			assert.LessOrEqual(t, a, uint8(128), "band alpha out of range at p=%v", p)
		}
		prev = a
	}
}

func TestClassify(t *testing.T) {
	field := &LikelihoodField{Width: 2, Height: 1, Values: []float32{0.95, 0.5}}

	m, err := Classify(field)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Width())
	assert.Equal(t, 1, m.Height())
	assert.Equal(t, uint8(255), m.AlphaAt(0, 0))
	assert.Equal(t, uint8(55), m.AlphaAt(1, 0))

	c := m.NRGBAAt(1, 0)
	assert.Equal(t, Carrier.R, c.R)
	assert.Equal(t, Carrier.G, c.G)
	assert.Equal(t, Carrier.B, c.B)
}

func TestClassifyForegroundIsTransparent(t *testing.T) {
	field := NewLikelihoodField(3, 2)
	for i := range field.Values {
		field.Values[i] = 0.1
	}

	m, err := Classify(field)
	require.NoError(t, err)

	for _, b := range m.Pix {
		assert.Zero(t, b)
	}
}

func TestClassifyRejectsEmptyField(t *testing.T) {
	tests := []*LikelihoodField{
		nil,
		{Width: 0, Height: 4},
		{Width: 4, Height: 0},
		{Width: 2, Height: 2, Values: []float32{0.1}},
		{Width: math.MaxInt, Height: math.MaxInt},
		{Width: MaxFieldPixels, Height: 2},
	}

	for _, f := range tests {
		_, err := Classify(f)
		assert.ErrorIs(t, err, ErrEmptyField)
	}
}

func TestLikelihoodFieldAt(t *testing.T) {
	f := &LikelihoodField{Width: 2, Height: 2, Values: []float32{0, 0.25, 0.5, 0.75}}
	assert.Equal(t, float32(0.5), f.At(0, 1))
	assert.Equal(t, float32(0.75), f.At(1, 1))
}
