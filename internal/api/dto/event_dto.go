package dto

import "github.com/limitrofe/stickers/internal/delivery"

// EventRequest is the inbound message posted by the transport bridge.
type EventRequest struct {
	Identity  string `json:"identity" binding:"required"`
	HasMedia  bool   `json:"has_media"`
	MediaType string `json:"media_type"`
	MimeType  string `json:"mimetype"`
	Data      string `json:"data"`
	EventID   string `json:"event_id"`
}

type EventAcceptedResponse struct {
	EventID string `json:"event_id,omitempty"`
	Status  string `json:"status"`
}

type OutboxResponse struct {
	Identity string             `json:"identity"`
	Messages []delivery.Message `json:"messages"`
}

type UsageResponse struct {
	Identity  string `json:"identity"`
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}
