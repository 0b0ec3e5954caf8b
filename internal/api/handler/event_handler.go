package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/limitrofe/stickers/internal/api/dto"
	"github.com/limitrofe/stickers/internal/delivery"
	"github.com/limitrofe/stickers/internal/intake"
)

// ReceiveEvent handles POST /api/v1/events
// Intake runs after the response is written; the bridge never waits on it.
func (h *EventHandler) ReceiveEvent(c *gin.Context) {
	var req dto.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Event body too large", slog.Int64("limit", tooLarge.Limit))
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			return
		}
		h.logger.Warn("Invalid event body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	ev := intake.Event{
		Identity:   req.Identity,
		HasMedia:   req.HasMedia,
		MediaType:  req.MediaType,
		MimeType:   req.MimeType,
		DataBase64: req.Data,
		EventID:    req.EventID,
	}

	select {
	case h.slots <- struct{}{}:
	default:
		h.logger.Warn("Intake saturated, rejecting event", slog.Int("max_inflight", cap(h.slots)))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Too many events in progress",
		})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	h.inflight.Add(1)
	go func() {
		defer func() {
			<-h.slots
			h.inflight.Done()
		}()
		h.intake.Handle(ctx, ev)
	}()

	c.JSON(http.StatusAccepted, dto.EventAcceptedResponse{
		EventID: req.EventID,
		Status:  "accepted",
	})
}

// DrainOutbox handles GET /api/v1/outbox/:identity
func (h *EventHandler) DrainOutbox(c *gin.Context) {
	if h.outbox == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "outbox disabled, replies are published to the broker",
		})
		return
	}

	identity := c.Param("identity")
	msgs := h.outbox.Drain(identity)
	if msgs == nil {
		msgs = []delivery.Message{}
	}

	c.JSON(http.StatusOK, dto.OutboxResponse{
		Identity: identity,
		Messages: msgs,
	})
}

// GetUsage handles GET /api/v1/usage/:identity
func (h *EventHandler) GetUsage(c *gin.Context) {
	identity := c.Param("identity")

	rec, err := h.usage.Usage(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("Failed to read usage",
			slog.String("identity", identity),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read usage",
		})
		return
	}

	remaining := h.dailyLimit - rec.Count
	if remaining < 0 {
		remaining = 0
	}

	c.JSON(http.StatusOK, dto.UsageResponse{
		Identity:  identity,
		Date:      rec.Date,
		Count:     rec.Count,
		Limit:     h.dailyLimit,
		Remaining: remaining,
	})
}
