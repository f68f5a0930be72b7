package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// authHandler serves login and user administration.
type authHandler struct {
	svc    *auth.Service
	logger zerolog.Logger
}

// Login accepts OAuth2-style form credentials and mints a bearer token.
func (h *authHandler) Login(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		detail(c, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	token, err := h.svc.Login(c.Request.Context(), username, password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.Header("WWW-Authenticate", "Bearer")
			detail(c, http.StatusUnauthorized, "Incorrect username or password")
		case errors.Is(err, auth.ErrInactiveUser):
			detail(c, http.StatusForbidden, "User account is inactive")
		default:
			writeServiceError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, token)
}

// Me returns the authenticated user's own record.
func (h *authHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c).Public())
}

// Register creates a user account. Admin only.
func (h *authHandler) Register(c *gin.Context) {
	var data model.UserCreate
	if err := c.ShouldBindJSON(&data); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := data.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}

	user, err := h.svc.CreateUser(c.Request.Context(), data)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			detail(c, http.StatusBadRequest, fmt.Sprintf("Username '%s' already exists", data.Username))
			return
		}
		writeServiceError(c, err)
		return
	}

	h.logger.Info().
		Str("username", user.Username).
		Str("registered_by", currentUser(c).Username).
		Msg("User registered")

	c.JSON(http.StatusCreated, user.Public())
}

// List returns every user record. Admin only.
func (h *authHandler) List(c *gin.Context) {
	users, err := h.svc.Users().List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}

	out := make([]model.UserPublic, 0, len(users))
	for _, user := range users {
		out = append(out, user.Public())
	}
	c.JSON(http.StatusOK, out)
}

// Update applies a partial user update. Admin only.
func (h *authHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var update model.UserUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := update.Validate(); err != nil {
		writeServiceError(c, err)
		return
	}

	user, err := h.svc.UpdateUser(c.Request.Context(), id, update)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			detail(c, http.StatusNotFound, fmt.Sprintf("User with ID '%s' not found", id))
			return
		}
		writeServiceError(c, err)
		return
	}

	h.logger.Info().
		Str("username", user.Username).
		Str("updated_by", currentUser(c).Username).
		Msg("User updated")

	c.JSON(http.StatusOK, user.Public())
}

// Delete removes a user account. Admin only; self-deletion is refused.
func (h *authHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	actor := currentUser(c)

	if id == actor.UserID {
		detail(c, http.StatusBadRequest, "Cannot delete your own user account")
		return
	}

	target, err := h.svc.Users().GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			detail(c, http.StatusNotFound, fmt.Sprintf("User with ID '%s' not found", id))
			return
		}
		writeServiceError(c, err)
		return
	}

	deleted, err := h.svc.DeleteUser(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !deleted {
		detail(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	h.logger.Info().
		Str("username", target.Username).
		Str("deleted_by", actor.Username).
		Msg("User deleted")

	c.Status(http.StatusNoContent)
}

// Stats reports user store statistics. Admin only.
func (h *authHandler) Stats(c *gin.Context) {
	provider, ok := h.svc.Users().(auth.UserStatsProvider)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"error": "Statistics not available for this storage backend"})
		return
	}

	stats, err := provider.UserStats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
