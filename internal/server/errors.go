package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/store"
)

// detail writes the error body shape shared by every endpoint.
func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

// abortDetail writes the error body and stops the handler chain.
func abortDetail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// quotedList renders names the way denial details list them:
// ['a', 'b'].
func quotedList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + item + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// writeServiceError maps domain errors onto HTTP statuses. Handlers
// call it for every error they do not shape themselves.
func writeServiceError(c *gin.Context, err error) {
	var (
		valErr    *model.ValidationError
		permErr   *auth.PermissionError
		accessErr *auth.TopicAccessError
		bulkErr   *publish.BulkAccessError
	)

	switch {
	case errors.As(err, &valErr):
		detail(c, http.StatusUnprocessableEntity, valErr.Error())
	case errors.As(err, &permErr):
		detail(c, http.StatusForbidden, fmt.Sprintf("Permission '%s' required", permErr.Permission))
	case errors.As(err, &accessErr):
		detail(c, http.StatusForbidden, fmt.Sprintf("Access denied to topic '%s'", accessErr.Topic))
	case errors.As(err, &bulkErr):
		detail(c, http.StatusForbidden, "Access denied to topics: "+quotedList(bulkErr.Topics))
	case errors.Is(err, auth.ErrInvalidToken):
		c.Header("WWW-Authenticate", "Bearer")
		detail(c, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, auth.ErrInactiveUser):
		detail(c, http.StatusForbidden, "User is inactive")
	case errors.Is(err, auth.ErrUserNotFound):
		detail(c, http.StatusNotFound, "User not found")
	case errors.Is(err, auth.ErrTopicNotFound):
		detail(c, http.StatusNotFound, "Topic not found")
	case store.IsUnavailable(err):
		detail(c, http.StatusServiceUnavailable, "Storage backend unavailable")
	default:
		detail(c, http.StatusInternalServerError, "Internal server error")
	}
}
