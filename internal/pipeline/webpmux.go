package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	vp8xFlagAlpha = 0x10
	vp8xFlagEXIF  = 0x08
)

type riffChunk struct {
	fourCC string
	data   []byte
}

func parseWebP(b []byte) ([]riffChunk, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WEBP" {
		return nil, fmt.Errorf("%w: missing RIFF/WEBP header", ErrInvalidWebP)
	}

	riffSize := int(binary.LittleEndian.Uint32(b[4:8]))
	end := min(8+riffSize, len(b))

	var chunks []riffChunk
	for off := 12; off < end; {
		if off+8 > end {
			return nil, fmt.Errorf("%w: truncated chunk header", ErrInvalidWebP)
		}
		fourCC := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		start := off + 8
		if start+size > end {
			return nil, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWebP, fourCC)
		}
		chunks = append(chunks, riffChunk{fourCC: fourCC, data: b[start : start+size]})
		off = start + size + size&1
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", ErrInvalidWebP)
	}
	return chunks, nil
}

// withEXIF rewrites a WebP file into the extended (VP8X) layout and appends
// an EXIF chunk, replacing any existing one.
func withEXIF(webpData, exif []byte, width, height int, hasAlpha bool) ([]byte, error) {
	chunks, err := parseWebP(webpData)
	if err != nil {
		return nil, err
	}

	var vp8x []byte
	body := make([]riffChunk, 0, len(chunks)+1)
	for _, c := range chunks {
		switch c.fourCC {
		case "VP8X":
			vp8x = append([]byte(nil), c.data...)
		case "EXIF":
		default:
			body = append(body, c)
		}
	}

	if vp8x == nil {
		vp8x = make([]byte, 10)
		if hasAlpha {
			vp8x[0] |= vp8xFlagAlpha
		}
		putUint24(vp8x[4:7], uint32(width-1))
		putUint24(vp8x[7:10], uint32(height-1))
	}
	vp8x[0] |= vp8xFlagEXIF

	var out bytes.Buffer
	out.WriteString("RIFF")
	out.Write([]byte{0, 0, 0, 0})
	out.WriteString("WEBP")
	writeChunk(&out, "VP8X", vp8x)
	for _, c := range body {
		writeChunk(&out, c.fourCC, c.data)
	}
	writeChunk(&out, "EXIF", exif)

	b := out.Bytes()
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	return b, nil
}

func writeChunk(w *bytes.Buffer, fourCC string, data []byte) {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
	w.WriteString(fourCC)
	w.Write(size[:])
	w.Write(data)
	if len(data)&1 == 1 {
		w.WriteByte(0)
	}
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
