package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/config"
	"github.com/mvdbeek/pulsar-relay/internal/hub"
	"github.com/mvdbeek/pulsar-relay/internal/logging"
	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/publish"
	"github.com/mvdbeek/pulsar-relay/internal/relay"
	"github.com/mvdbeek/pulsar-relay/internal/server"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
	"github.com/mvdbeek/pulsar-relay/internal/store"
)

// userCacheSize bounds the hot user lookup cache; entries also expire
// so permission changes propagate within a minute.
const (
	userCacheSize = 1000
	userCacheTTL  = time.Minute

	coordinatorStopTimeout = 5 * time.Second
)

func main() {
	// .env is optional; deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info().
		Str("storage_backend", cfg.StorageBackend).
		Str("coordinator_backend", cfg.CoordinatorBackend).
		Str("addr", cfg.ListenAddr()).
		Msg("Starting pulsar-relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var client *redis.Client
	if cfg.NeedsStore() {
		client = store.New(store.Config{
			Addr:     cfg.StoreAddr(),
			Password: cfg.StorePassword,
			TLS:      cfg.StoreTLS,
		})
		if err := store.Ping(ctx, client); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.StoreAddr()).Msg("Store unreachable")
		}
		logger.Info().Str("addr", cfg.StoreAddr()).Msg("Connected to store")
	}

	var (
		log    storage.Log
		users  auth.UserStore
		topics auth.TopicStore
	)
	if cfg.StorageBackend == config.BackendStore {
		log = storage.NewStreamLog(client, cfg.MaxMessagesPerTopic,
			time.Duration(cfg.PersistentTierRetention)*time.Second)
		users = auth.NewRedisUserStore(client)
		topics = auth.NewRedisTopicStore(client)
	} else {
		log = storage.NewMemoryLog(cfg.MaxMessagesPerTopic)
		users = auth.NewMemoryUserStore()
		topics = auth.NewMemoryTopicStore()
	}

	authz := auth.NewService(
		users,
		topics,
		auth.NewTokenManager(cfg.JWTSecretKey, time.Duration(cfg.JWTExpirationMinutes)*time.Minute),
		auth.NewUserCache(userCacheSize, userCacheTTL),
		logger,
	)

	reg := metrics.NewRegistry()
	localHub := hub.NewLocalHub(logger, reg)
	pollHub := hub.NewPollHub(logger, reg)

	coordinator := buildCoordinator(cfg, client, logger, reg)
	if coordinator != nil {
		coordinator.RegisterHandler(func(topic string, event *model.Event) {
			localHub.Broadcast(topic, event)
			pollHub.Broadcast(topic, event)
		})
		if err := coordinator.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Coordinator start failed")
		}
	}

	publisher := publish.New(authz, log, localHub, pollHub, coordinator, logger, reg)

	srv := server.New(server.Options{
		Config:    cfg,
		Logger:    logger,
		Metrics:   reg,
		Auth:      authz,
		Log:       log,
		LocalHub:  localHub,
		PollHub:   pollHub,
		Publisher: publisher,
	})
	if err := srv.Bootstrap(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Bootstrap failed")
	}

	runErr := srv.Run(ctx)

	if coordinator != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), coordinatorStopTimeout)
		if err := coordinator.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("Coordinator stop error")
		}
		cancel()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("Store client close error")
		}
	}

	if runErr != nil {
		logger.Fatal().Err(runErr).Msg("Server exited with error")
	}
	logger.Info().Msg("Shutdown complete")
}

// buildCoordinator picks the cross-worker relay for the configured
// backend; nil means single-worker local fan-out.
func buildCoordinator(cfg config.Config, client *redis.Client, logger zerolog.Logger, reg *metrics.Registry) relay.Coordinator {
	switch cfg.CoordinatorBackend {
	case config.CoordinatorStore:
		// The subscriber side opens its own connection; a subscribed
		// client cannot multiplex regular commands.
		return relay.NewStoreCoordinator(client, store.Config{
			Addr:     cfg.StoreAddr(),
			Password: cfg.StorePassword,
			TLS:      cfg.StoreTLS,
		}, logger, reg)
	case config.CoordinatorNATS:
		return relay.NewNATSCoordinator(cfg.NATSURL, logger, reg)
	default:
		return nil
	}
}
