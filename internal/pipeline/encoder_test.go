package pipeline

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"image/color"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findChunk(t *testing.T, data []byte, fourCC string) []byte {
	t.Helper()

	chunks, err := parseWebP(data)
	require.NoError(t, err)
	for _, c := range chunks {
		if c.fourCC == fourCC {
			return c.data
		}
	}
	return nil
}

func TestStickerEncoder_Encode(t *testing.T) {
	enc, err := NewStickerEncoder(EncoderOptions{
		PackID:    "pack-1",
		PackName:  "Sticker Bot",
		Publisher: "Seu Nome",
		Emojis:    []string{"😀"},
	})
	require.NoError(t, err)

	out, err := enc.Encode(solidPNG(t, 300, 150, red))
	require.NoError(t, err)

	assert.Equal(t, "RIFF", string(out[0:4]))
	assert.Equal(t, "WEBP", string(out[8:12]))
	assert.Equal(t, uint32(len(out)-8), binary.LittleEndian.Uint32(out[4:8]))

	vp8x := findChunk(t, out, "VP8X")
	require.Len(t, vp8x, 10)
	assert.NotZero(t, vp8x[0]&vp8xFlagEXIF)
	assert.NotZero(t, vp8x[0]&vp8xFlagAlpha, "full mode on transparent background has alpha")

	assert.NotNil(t, findChunk(t, out, "VP8L"), "quality 100 is lossless")

	exif := findChunk(t, out, "EXIF")
	require.NotNil(t, exif)
	payloadLen := binary.LittleEndian.Uint32(exif[exifCountOffset:])
	require.Equal(t, len(exifHeader)+int(payloadLen), len(exif))

	var meta StickerMetadata
	require.NoError(t, json.Unmarshal(exif[len(exifHeader):], &meta))
	assert.Equal(t, StickerMetadata{
		PackID:    "pack-1",
		PackName:  "Sticker Bot",
		Publisher: "Seu Nome",
		Emojis:    []string{"😀"},
	}, meta)

	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestStickerEncoder_CropModes(t *testing.T) {
	tests := []struct {
		name        string
		crop        string
		cornerAlpha uint8
	}{
		{"full pads with background", CropFull, 0},
		{"crop fills the canvas", CropFill, 0xff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewStickerEncoder(EncoderOptions{Crop: tt.crop})
			require.NoError(t, err)

			out, err := enc.Encode(solidPNG(t, 300, 150, red))
			require.NoError(t, err)

			img, err := webp.DecodeRGBA(out)
			require.NoError(t, err)
			assert.Equal(t, 512, img.Bounds().Dx())
			assert.Equal(t, tt.cornerAlpha, img.RGBAAt(0, 0).A)
		})
	}
}

func TestStickerEncoder_Lossy(t *testing.T) {
	enc, err := NewStickerEncoder(EncoderOptions{Quality: 80, Crop: CropFill})
	require.NoError(t, err)

	out, err := enc.Encode(solidPNG(t, 64, 64, red))
	require.NoError(t, err)

	assert.NotNil(t, findChunk(t, out, "VP8 "))
	assert.NotNil(t, findChunk(t, out, "EXIF"))
}

func TestStickerEncoder_RandomPackID(t *testing.T) {
	enc, err := NewStickerEncoder(EncoderOptions{})
	require.NoError(t, err)

	a, b := enc.metadata(), enc.metadata()
	assert.NotEmpty(t, a.PackID)
	assert.NotEqual(t, a.PackID, b.PackID)
}

func TestStickerEncoder_Errors(t *testing.T) {
	_, err := NewStickerEncoder(EncoderOptions{Crop: "circle"})
	assert.ErrorIs(t, err, ErrInvalidCropMode)

	enc, err := NewStickerEncoder(EncoderOptions{})
	require.NoError(t, err)

	_, err = enc.Encode([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestParseBackground(t *testing.T) {
	tests := []struct {
		in      string
		want    color.Color
		wantErr bool
	}{
		{"transparent", color.Transparent, false},
		{"", color.Transparent, false},
		{"White", color.White, false},
		{"#ff0000", color.NRGBA{R: 0xff, A: 0xff}, false},
		{"#00ff0080", color.NRGBA{G: 0xff, A: 0x80}, false},
		{"#abc", nil, true},
		{"#gggggg", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackground(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
