package pipeline

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutliner_Apply(t *testing.T) {
	o := NewOutliner(OutlineOptions{})

	// 100x100 scales up to 400x400, occupying [56,456) on the 512 canvas.
	out, err := o.Apply(solidPNG(t, 100, 100, red))
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 512, img.Bounds().Dx())
	assert.Equal(t, 512, img.Bounds().Dy())

	tests := []struct {
		name string
		x, y int
		want color.NRGBA
	}{
		{"subject center", 256, 256, red},
		{"just inside edge", 60, 256, red},
		{"stroke near edge", 48, 256, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}},
		{"far corner", 4, 4, color.NRGBA{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := img.NRGBAAt(tt.x, tt.y)
			assert.Equal(t, tt.want.A, got.A)
			if tt.want.A != 0 {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestOutliner_KeepsAspectRatio(t *testing.T) {
	o := NewOutliner(OutlineOptions{})

	// 200x100 becomes 400x200, centered vertically at [156,356).
	out, err := o.Apply(solidPNG(t, 200, 100, red))
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, red, img.NRGBAAt(256, 256))
	assert.Equal(t, uint8(0), img.NRGBAAt(256, 20).A, "band above subject stays clear")
}

func TestOutliner_Undecodable(t *testing.T) {
	o := NewOutliner(OutlineOptions{})

	_, err := o.Apply([]byte("not an image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestNewOutliner_Defaults(t *testing.T) {
	o := NewOutliner(OutlineOptions{CanvasSize: 256, InnerSize: 1000})

	assert.Equal(t, 256, o.opts.CanvasSize)
	assert.Equal(t, 256, o.opts.InnerSize)
	assert.Equal(t, 15.0, o.opts.BlurSigma)
	assert.Equal(t, uint8(50), o.opts.Threshold)
}
