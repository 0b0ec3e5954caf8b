package delivery

import (
	"context"
	"time"
)

// Message types
const (
	TypeNotice  = "notice"
	TypeSticker = "sticker"
)

const StickerMimeType = "image/webp"

// Delivery sends replies back to an identity through the messaging
// transport.
type Delivery interface {
	SendNotice(ctx context.Context, identity, text string) error
	SendSticker(ctx context.Context, identity string, data []byte) error
}

// Message is the outbound envelope read by the transport bridge. Data is
// base64 in JSON.
type Message struct {
	Type     string    `json:"type"`
	Identity string    `json:"identity"`
	Text     string    `json:"text,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	MimeType string    `json:"mimetype,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

func noticeMessage(identity, text string, now time.Time) Message {
	return Message{Type: TypeNotice, Identity: identity, Text: text, SentAt: now}
}

func stickerMessage(identity string, data []byte, now time.Time) Message {
	return Message{Type: TypeSticker, Identity: identity, Data: data, MimeType: StickerMimeType, SentAt: now}
}
