package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP uploads
)

func decode(src []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return img, nil
}

// contain scales img up or down so it fits size x size with its aspect
// ratio intact, and centers it on a size x size canvas filled with bg.
func contain(img image.Image, box, size int, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := math.Min(float64(box)/float64(w), float64(box)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	resized := imaging.Resize(img, nw, nh, imaging.Lanczos)
	canvas := imaging.New(size, size, bg)
	return imaging.Paste(canvas, resized, image.Pt((size-nw)/2, (size-nh)/2))
}

func isOpaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}
