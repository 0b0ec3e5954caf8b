package pipeline

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// StickerMetadata is the JSON WhatsApp reads from a sticker's EXIF chunk.
type StickerMetadata struct {
	PackID    string   `json:"sticker-pack-id"`
	PackName  string   `json:"sticker-pack-name"`
	Publisher string   `json:"sticker-pack-publisher"`
	Emojis    []string `json:"emojis,omitempty"`
}

// exifHeader is a little-endian TIFF header with a single IFD entry, tag
// 0x5741 of type UNDEFINED, whose value starts right after the header.
var exifHeader = [...]byte{
	0x49, 0x49, 0x2a, 0x00, 0x08, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x41, 0x57, 0x07, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x16, 0x00, 0x00, 0x00,
}

const exifCountOffset = 14

func (m StickerMetadata) EXIF() ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sticker metadata: %w", err)
	}

	out := make([]byte, len(exifHeader), len(exifHeader)+len(payload))
	copy(out, exifHeader[:])
	binary.LittleEndian.PutUint32(out[exifCountOffset:], uint32(len(payload)))
	return append(out, payload...), nil
}
