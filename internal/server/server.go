// Package server exposes the relay over HTTP: gin routes for auth,
// topic, and message management, the WebSocket endpoint, and the
// long-poll fallback. It owns the error-to-status mapping and the
// periodic maintenance jobs.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/config"
	"github.com/mvdbeek/pulsar-relay/internal/hub"
	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	shutdownTimeout = 10 * time.Second

	// Poll waiters older than this are leftovers from requests that
	// never reached their cleanup; the maintenance job sweeps them.
	staleWaiterAge = 5 * time.Minute
)

// Options bundles the collaborators a Server composes. Everything is
// injected; the server holds no globals.
type Options struct {
	Config    config.Config
	Logger    zerolog.Logger
	Metrics   *metrics.Registry
	Auth      *auth.Service
	Log       storage.Log
	LocalHub  *hub.LocalHub
	PollHub   *hub.PollHub
	Publisher *publish.Publisher
}

// Server is the HTTP face of the relay.
type Server struct {
	cfg       config.Config
	logger    zerolog.Logger
	metrics   *metrics.Registry
	authz     *auth.Service
	log       storage.Log
	localHub  *hub.LocalHub
	pollHub   *hub.PollHub
	publisher *publish.Publisher

	limiter *loginLimiter
	router  *gin.Engine
	cron    *cron.Cron
	started time.Time
}

// New builds the server and its route table.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       opts.Config,
		logger:    opts.Logger.With().Str("component", "server").Logger(),
		metrics:   opts.Metrics,
		authz:     opts.Auth,
		log:       opts.Log,
		localHub:  opts.LocalHub,
		pollHub:   opts.PollHub,
		publisher: opts.Publisher,
		limiter:   newLoginLimiter(opts.Config.LoginRatePerSecond, opts.Config.LoginRateBurst),
		cron:      cron.New(),
		started:   time.Now(),
	}

	s.cron.AddFunc("@every 1m", func() {
		s.pollHub.ReapStale(staleWaiterAge)
	})
	s.cron.AddFunc("@every 1h", func() {
		s.limiter.Reset()
	})

	s.router = s.buildRouter()
	return s
}

// Handler exposes the route table for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(s.logger), recovery(s.logger))

	health := &healthHandler{log: s.log}
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	ws := newWSHandler(s.authz, s.localHub, s.metrics, s.logger,
		s.cfg.MaxConnectionsPerInstance, s.cfg.MaxMessageSize)
	router.GET("/ws", ws.Serve)

	users := &authHandler{svc: s.authz, logger: s.logger}
	authGroup := router.Group("/auth")
	authGroup.POST("/login", s.limiter.Middleware(), users.Login)

	authed := authGroup.Group("", authenticate(s.authz))
	authed.GET("/me", users.Me)

	admin := authed.Group("", requirePermission(model.PermissionAdmin))
	admin.POST("/register", users.Register)
	admin.GET("/users", users.List)
	admin.GET("/users/stats", users.Stats)
	admin.PATCH("/users/:id", users.Update)
	admin.DELETE("/users/:id", users.Delete)

	api := router.Group("/api/v1", authenticate(s.authz))

	topics := &topicHandler{svc: s.authz, log: s.log, logger: s.logger}
	topicGroup := api.Group("/topics")
	topicGroup.POST("", requirePermission(model.PermissionWrite), topics.Create)
	topicGroup.GET("", topics.List)
	topicGroup.GET("/stats", requirePermission(model.PermissionAdmin), topics.Stats)
	topicGroup.GET("/:name", topics.Get)
	topicGroup.PUT("/:name", topics.Update)
	topicGroup.DELETE("/:name", topics.Delete)
	topicGroup.GET("/:name/messages", topics.Messages)
	topicGroup.POST("/:name/permissions", topics.Grant)
	topicGroup.GET("/:name/permissions", topics.Permissions)
	topicGroup.DELETE("/:name/permissions/:user_id", topics.Revoke)

	messages := &messageHandler{pub: s.publisher, logger: s.logger}
	api.POST("/messages", requirePermission(model.PermissionWrite), messages.Publish)
	api.POST("/messages/bulk", requirePermission(model.PermissionWrite), messages.PublishBulk)

	stats := &statsHandler{
		svc:      s.authz,
		log:      s.log,
		localHub: s.localHub,
		pollHub:  s.pollHub,
		started:  s.started,
	}
	api.GET("/stats", requirePermission(model.PermissionAdmin), stats.Runtime)

	poll := &pollHandler{log: s.log, pollHub: s.pollHub, logger: s.logger}
	pollGroup := router.Group("/messages", authenticate(s.authz))
	pollGroup.POST("/poll", requirePermission(model.PermissionRead), poll.Poll)
	pollGroup.GET("/poll/stats", requirePermission(model.PermissionAdmin), poll.Stats)

	return router
}

// Run serves HTTP until ctx is canceled, then drains in-flight requests
// and closes the attached WebSocket sessions.
func (s *Server) Run(ctx context.Context) error {
	s.cron.Start()
	defer s.cron.Stop()

	httpServer := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server starting")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP server shutdown error")
		}

		// Shutdown does not wait for hijacked connections.
		s.localHub.CloseAll()
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
