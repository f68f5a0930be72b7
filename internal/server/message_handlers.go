package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
)

// messageHandler serves the publish endpoints.
type messageHandler struct {
	pub    *publish.Publisher
	logger zerolog.Logger
}

// Publish accepts one message. Requires write.
func (h *messageHandler) Publish(c *gin.Context) {
	var req model.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}

	resp, err := h.pub.Publish(c.Request.Context(), currentUser(c), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// PublishBulk accepts up to 100 messages and answers per-message
// outcomes. Requires write; access to every named topic is checked
// before anything is stored.
func (h *messageHandler) PublishBulk(c *gin.Context) {
	var req model.BulkPublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}

	resp, err := h.pub.PublishBulk(c.Request.Context(), currentUser(c), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusMultiStatus, resp)
}
