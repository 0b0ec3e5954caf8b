package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Crop modes
const (
	CropFull = "full"
	CropFill = "crop"
)

// EncoderOptions holds the fixed sticker settings.
type EncoderOptions struct {
	Size       int
	Crop       string
	Quality    int
	Background color.Color
	PackID     string // random per sticker when empty
	PackName   string
	Publisher  string
	Emojis     []string
}

// StickerEncoder turns an image into a square WebP sticker with embedded
// pack metadata.
type StickerEncoder struct {
	opts EncoderOptions
}

func NewStickerEncoder(opts EncoderOptions) (*StickerEncoder, error) {
	if opts.Size <= 0 {
		opts.Size = 512
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 100
	}
	if opts.Background == nil {
		opts.Background = color.Transparent
	}
	switch opts.Crop {
	case "":
		opts.Crop = CropFull
	case CropFull, CropFill:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCropMode, opts.Crop)
	}
	return &StickerEncoder{opts: opts}, nil
}

func (e *StickerEncoder) Encode(src []byte) ([]byte, error) {
	img, err := decode(src)
	if err != nil {
		return nil, err
	}

	var fitted *image.NRGBA
	if e.opts.Crop == CropFill {
		fitted = imaging.Fill(img, e.opts.Size, e.opts.Size, imaging.Center, imaging.Lanczos)
	} else {
		fitted = contain(img, e.opts.Size, e.opts.Size, e.opts.Background)
	}

	var buf bytes.Buffer
	err = webp.Encode(&buf, fitted, &webp.Options{
		Lossless: e.opts.Quality >= 100,
		Quality:  float32(e.opts.Quality),
		Exact:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}

	exif, err := e.metadata().EXIF()
	if err != nil {
		return nil, err
	}
	return withEXIF(buf.Bytes(), exif, e.opts.Size, e.opts.Size, !isOpaque(fitted))
}

func (e *StickerEncoder) metadata() StickerMetadata {
	id := e.opts.PackID
	if id == "" {
		id = uuid.NewString()
	}
	return StickerMetadata{
		PackID:    id,
		PackName:  e.opts.PackName,
		Publisher: e.opts.Publisher,
		Emojis:    e.opts.Emojis,
	}
}

// ParseBackground accepts "transparent", "white", "black" or a #rrggbb /
// #rrggbbaa hex color.
func ParseBackground(s string) (color.Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "transparent":
		return color.Transparent, nil
	case "white":
		return color.White, nil
	case "black":
		return color.Black, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return nil, fmt.Errorf("invalid background color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid background color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
