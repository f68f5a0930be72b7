package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/hub"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// pollHandler serves the long-poll fallback for clients without
// WebSocket support.
type pollHandler struct {
	log     storage.Log
	pollHub *hub.PollHub
	logger  zerolog.Logger
}

// Poll parks the request until an event arrives on one of the topics
// or the timeout lapses. A since cursor map first replays missed
// messages from the log; any catch-up hit returns immediately.
// Requires read.
func (h *pollHandler) Poll(c *gin.Context) {
	var req model.PollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}

	if len(req.Since) > 0 {
		var events []*model.Event
		for _, topic := range req.Topics {
			stored, err := h.log.Range(c.Request.Context(), topic, req.Since[topic], storage.MaxRangeLimit, false)
			if err != nil {
				h.logger.Error().Err(err).Str("topic", topic).Msg("Failed to fetch catch-up messages")
				continue
			}
			for _, msg := range stored {
				events = append(events, model.EventFromStored(msg))
			}
		}
		if len(events) > 0 {
			c.JSON(http.StatusOK, model.PollResponse{
				Messages: events,
				HasMore:  len(events) >= storage.MaxRangeLimit,
			})
			return
		}
	}

	waiter := h.pollHub.CreateWaiter(req.Topics)
	defer h.pollHub.RemoveWaiter(waiter.ID())

	timeout := time.Duration(req.ClampTimeout()) * time.Second
	messages := waiter.WaitForMessages(c.Request.Context(), timeout)
	if messages == nil {
		messages = []*model.Event{}
	}

	c.JSON(http.StatusOK, model.PollResponse{Messages: messages, HasMore: false})
}

// Stats reports poll hub statistics. Admin only.
func (h *pollHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pollHub.Stats())
}
