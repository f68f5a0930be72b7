package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// topicHandler serves topic management and the per-topic message page.
type topicHandler struct {
	svc    *auth.Service
	log    storage.Log
	logger zerolog.Logger
}

// getTopic loads the topic or writes the 404 body. The bool reports
// whether the handler should continue.
func (h *topicHandler) getTopic(c *gin.Context, name string) (*model.Topic, bool) {
	topic, err := h.svc.Topics().Get(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, auth.ErrTopicNotFound) {
			detail(c, http.StatusNotFound, fmt.Sprintf("Topic '%s' not found", name))
			return nil, false
		}
		writeServiceError(c, err)
		return nil, false
	}
	return topic, true
}

func isOwnerOrAdmin(user *model.User, topic *model.Topic) bool {
	return topic.OwnerID == user.UserID || user.HasPermission(model.PermissionAdmin)
}

// Create makes a new topic owned by the caller. Requires write.
func (h *topicHandler) Create(c *gin.Context) {
	var data model.TopicCreate
	if err := c.ShouldBindJSON(&data); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := data.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}

	actor := currentUser(c)
	topic, err := h.svc.CreateTopic(c.Request.Context(), actor, data)
	if err != nil {
		if errors.Is(err, auth.ErrTopicExists) {
			detail(c, http.StatusBadRequest, fmt.Sprintf("Topic '%s' already exists", data.TopicName))
			return
		}
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, topic.Public(actor.UserID))
}

// List returns the caller's topics: admins see the ones they own,
// everyone else sees owned plus granted.
func (h *topicHandler) List(c *gin.Context) {
	user := currentUser(c)

	var (
		topics []*model.Topic
		err    error
	)
	if user.HasPermission(model.PermissionAdmin) {
		topics, err = h.svc.Topics().ListOwned(c.Request.Context(), user.UserID)
	} else {
		topics, err = h.svc.Topics().ListAccessible(c.Request.Context(), user.UserID)
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	out := make([]model.TopicPublic, 0, len(topics))
	for _, topic := range topics {
		out = append(out, topic.Public(user.UserID))
	}
	c.JSON(http.StatusOK, out)
}

// Get returns one topic. Caller needs read access.
func (h *topicHandler) Get(c *gin.Context) {
	name := c.Param("name")
	topic, ok := h.getTopic(c, name)
	if !ok {
		return
	}

	user := currentUser(c)
	if err := h.svc.RequireTopicAccess(c.Request.Context(), user, name, model.PermissionRead); err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, topic.Public(user.UserID))
}

// Update patches topic metadata. Owner or admin.
func (h *topicHandler) Update(c *gin.Context) {
	name := c.Param("name")
	topic, ok := h.getTopic(c, name)
	if !ok {
		return
	}

	user := currentUser(c)
	if !isOwnerOrAdmin(user, topic) {
		detail(c, http.StatusForbidden, "Only the topic owner can update it")
		return
	}

	var update model.TopicUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := update.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}

	updated, err := h.svc.Topics().Update(c.Request.Context(), name, update)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	h.logger.Info().Str("topic", name).Str("updated_by", user.Username).Msg("Topic updated")

	// Update responses include the ACL for admins as well as the owner.
	c.JSON(http.StatusOK, updated.Public(updated.OwnerID))
}

// Delete removes the topic record and its stored messages. Owner or
// admin.
func (h *topicHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	topic, ok := h.getTopic(c, name)
	if !ok {
		return
	}

	user := currentUser(c)
	if !isOwnerOrAdmin(user, topic) {
		detail(c, http.StatusForbidden, "Only the topic owner can delete it")
		return
	}

	deleted, err := h.svc.DeleteTopic(c.Request.Context(), user, name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !deleted {
		detail(c, http.StatusInternalServerError, "Failed to delete topic")
		return
	}

	// The record is gone; message data follows best effort. Leftovers
	// age out through the retention cap.
	if err := h.log.DeleteTopic(c.Request.Context(), name); err != nil {
		h.logger.Warn().Err(err).Str("topic", name).Msg("Failed to delete topic messages")
	}

	c.Status(http.StatusNoContent)
}

// Grant adds a user to the topic ACL. Owner or admin.
func (h *topicHandler) Grant(c *gin.Context) {
	name := c.Param("name")
	topic, ok := h.getTopic(c, name)
	if !ok {
		return
	}

	user := currentUser(c)
	if !isOwnerOrAdmin(user, topic) {
		detail(c, http.StatusForbidden, "Only the topic owner can grant access")
		return
	}

	var grant model.TopicPermissionGrant
	if err := c.ShouldBindJSON(&grant); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	var (
		target *model.User
		err    error
	)
	switch {
	case grant.UserID != "":
		target, err = h.svc.Users().GetByID(c.Request.Context(), grant.UserID)
	case grant.Username != "":
		target, err = h.svc.Users().GetByUsername(c.Request.Context(), grant.Username)
	default:
		detail(c, http.StatusBadRequest, "Either user_id or username must be provided")
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			detail(c, http.StatusNotFound, "User not found")
			return
		}
		writeServiceError(c, err)
		return
	}

	if err := h.svc.Topics().GrantAccess(c.Request.Context(), name, target.UserID); err != nil {
		if errors.Is(err, auth.ErrAlreadyGranted) {
			detail(c, http.StatusBadRequest,
				fmt.Sprintf("User %s already has access to topic %s", target.UserID, name))
			return
		}
		writeServiceError(c, err)
		return
	}

	h.logger.Info().
		Str("topic", name).
		Str("granted_to", target.Username).
		Str("granted_by", user.Username).
		Msg("Topic access granted")

	c.JSON(http.StatusCreated, model.TopicPermission{
		TopicName: name,
		UserID:    target.UserID,
		Username:  target.Username,
		GrantedAt: time.Now().UTC(),
	})
}

// Revoke removes a user from the topic ACL. Owner or admin.
func (h *topicHandler) Revoke(c *gin.Context) {
	name := c.Param("name")
	topic, ok := h.getTopic(c, name)
	if !ok {
		return
	}

	user := currentUser(c)
	if !isOwnerOrAdmin(user, topic) {
		detail(c, http.StatusForbidden, "Only the topic owner can revoke access")
		return
	}

	revoked, err := h.svc.Topics().RevokeAccess(c.Request.Context(), name, c.Param("user_id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !revoked {
		detail(c, http.StatusNotFound, "User does not have access to this topic")
		return
	}

	h.logger.Info().
		Str("topic", name).
		Str("revoked_from", c.Param("user_id")).
		Str("revoked_by", user.Username).
		Msg("Topic access revoked")

	c.Status(http.StatusNoContent)
}

// Permissions lists the topic ACL. Owner or admin.
func (h *topicHandler) Permissions(c *gin.Context) {
	name := c.Param("name")
	topic, ok := h.getTopic(c, name)
	if !ok {
		return
	}

	user := currentUser(c)
	if !isOwnerOrAdmin(user, topic) {
		detail(c, http.StatusForbidden, "Only the topic owner can list permissions")
		return
	}

	// Grant times are not tracked on the ACL; report listing time.
	now := time.Now().UTC()
	permissions := make([]model.TopicPermission, 0, len(topic.AllowedUserIDs))
	for _, userID := range topic.AllowedUserIDs {
		member, err := h.svc.Users().GetByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				continue
			}
			writeServiceError(c, err)
			return
		}
		permissions = append(permissions, model.TopicPermission{
			TopicName: name,
			UserID:    userID,
			Username:  member.Username,
			GrantedAt: now,
		})
	}

	c.JSON(http.StatusOK, permissions)
}

// Messages pages through the topic's stored messages. Caller needs
// read access.
func (h *topicHandler) Messages(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.getTopic(c, name); !ok {
		return
	}

	user := currentUser(c)
	if err := h.svc.RequireTopicAccess(c.Request.Context(), user, name, model.PermissionRead); err != nil {
		writeServiceError(c, err)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > storage.MaxRangeLimit {
		detail(c, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
		return
	}
	order := c.DefaultQuery("order", "asc")
	if order != "asc" && order != "desc" {
		detail(c, http.StatusUnprocessableEntity, "order must be 'asc' or 'desc'")
		return
	}
	cursor := c.Query("cursor")

	messages, err := h.log.Range(c.Request.Context(), name, cursor, int64(limit), order == "desc")
	if err != nil {
		writeServiceError(c, err)
		return
	}
	total, err := h.log.Length(c.Request.Context(), name)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if messages == nil {
		messages = []model.StoredMessage{}
	}
	var nextCursor any
	if len(messages) == limit {
		nextCursor = messages[len(messages)-1].MessageID
	}
	var requestCursor any
	if cursor != "" {
		requestCursor = cursor
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":    messages,
		"total":       total,
		"limit":       limit,
		"order":       order,
		"cursor":      requestCursor,
		"next_cursor": nextCursor,
	})
}

// Stats reports topic store statistics. Admin only.
func (h *topicHandler) Stats(c *gin.Context) {
	provider, ok := h.svc.Topics().(auth.TopicStatsProvider)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"error": "Statistics not available for this storage backend"})
		return
	}

	stats, err := provider.TopicStats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
