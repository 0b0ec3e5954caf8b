package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
)

// OutlineOptions controls outline synthesis. Zero values take the defaults
// below.
type OutlineOptions struct {
	CanvasSize int
	InnerSize  int
	BlurSigma  float64
	Threshold  uint8
}

const (
	defaultCanvasSize = 512
	defaultInnerSize  = 400
	defaultBlurSigma  = 15
	defaultThreshold  = 50
)

// Outliner draws a white contour around the visible subject of an image.
type Outliner struct {
	opts OutlineOptions
}

func NewOutliner(opts OutlineOptions) *Outliner {
	if opts.CanvasSize <= 0 {
		opts.CanvasSize = defaultCanvasSize
	}
	if opts.InnerSize <= 0 || opts.InnerSize > opts.CanvasSize {
		opts.InnerSize = min(defaultInnerSize, opts.CanvasSize)
	}
	if opts.BlurSigma <= 0 {
		opts.BlurSigma = defaultBlurSigma
	}
	if opts.Threshold == 0 {
		opts.Threshold = defaultThreshold
	}
	return &Outliner{opts: opts}
}

// Apply returns a CanvasSize square PNG: the subject scaled into InnerSize,
// centered, on top of a white silhouette grown from its alpha channel.
func (o *Outliner) Apply(src []byte) ([]byte, error) {
	img, err := decode(src)
	if err != nil {
		return nil, err
	}

	centered := contain(img, o.opts.InnerSize, o.opts.CanvasSize, color.Transparent)
	stroke := o.strokeLayer(centered)
	out := imaging.Overlay(stroke, centered, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode outline: %w", err)
	}
	return buf.Bytes(), nil
}

// strokeLayer blurs the alpha channel, then thresholds it. The blur must
// come first: it is what grows the mask beyond the subject's edge.
func (o *Outliner) strokeLayer(centered *image.NRGBA) *image.NRGBA {
	bounds := centered.Bounds()

	alpha := image.NewGray(bounds)
	for i, j := 3, 0; i < len(centered.Pix); i, j = i+4, j+1 {
		alpha.Pix[j] = centered.Pix[i]
	}

	blurred := imaging.Blur(alpha, o.opts.BlurSigma)

	stroke := image.NewNRGBA(bounds)
	for i := 0; i < len(blurred.Pix); i += 4 {
		if blurred.Pix[i] >= o.opts.Threshold {
			stroke.Pix[i] = 0xff
			stroke.Pix[i+1] = 0xff
			stroke.Pix[i+2] = 0xff
			stroke.Pix[i+3] = 0xff
		}
	}
	return stroke
}
