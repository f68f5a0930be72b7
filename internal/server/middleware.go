package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/logging"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// userKey is the gin context key holding the authenticated user.
const userKey = "user"

// requestLogger logs one line per handled request.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request handled")
	}
}

// recovery converts handler panics into a generic 500 body.
func recovery(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.LogPanic(logger, r, "Request handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "INTERNAL_ERROR",
					"message": "An internal error occurred",
				})
			}
		}()
		c.Next()
	}
}

// authenticate resolves the bearer token and stores the user in the
// request context. Inactive users are rejected here so no handler ever
// sees one.
func authenticate(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			abortDetail(c, http.StatusUnauthorized, "Not authenticated")
			return
		}

		user, err := svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortAuthError(c, err)
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

func abortAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		c.Header("WWW-Authenticate", "Bearer")
		abortDetail(c, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, auth.ErrUserNotFound):
		c.Header("WWW-Authenticate", "Bearer")
		abortDetail(c, http.StatusUnauthorized, "User not found")
	case errors.Is(err, auth.ErrInactiveUser):
		abortDetail(c, http.StatusForbidden, "User is inactive")
	default:
		abortDetail(c, http.StatusInternalServerError, "Internal server error")
	}
}

// currentUser returns the user installed by authenticate.
func currentUser(c *gin.Context) *model.User {
	value, _ := c.Get(userKey)
	user, _ := value.(*model.User)
	return user
}

// requirePermission rejects users missing the given permission.
func requirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !user.HasPermission(permission) {
			abortDetail(c, http.StatusForbidden, fmt.Sprintf("Permission '%s' required", permission))
			return
		}
		c.Next()
	}
}

// loginLimiter rate-limits login attempts per client IP.
type loginLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	return &loginLimiter{
		visitors: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *loginLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.visitors[ip]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.visitors[ip] = lim
	}
	return lim
}

// Reset drops all per-IP state. Swept periodically so the map tracks
// only recent clients.
func (l *loginLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visitors = make(map[string]*rate.Limiter)
}

// Middleware rejects requests from IPs that exceeded their budget.
func (l *loginLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.limiter(c.ClientIP()).Allow() {
			abortDetail(c, http.StatusTooManyRequests, "Too many login attempts")
			return
		}
		c.Next()
	}
}
