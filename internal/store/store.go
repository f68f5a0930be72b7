// Package store owns the connection to the backing Redis-protocol store
// (Redis or Valkey). Stream, hash, and pub/sub accessors elsewhere share
// one client built here.
package store

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds every store call so a hung store surfaces as 503
// instead of stalling request handlers.
const opTimeout = 5 * time.Second

// Config holds store connection parameters.
type Config struct {
	Addr     string
	Password string
	TLS      bool
}

// New builds a client for the configured store. Callers own Close.
func New(cfg Config) *redis.Client {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		MaxRetries:   2,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// Ping verifies the store answers within the operation timeout.
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// IsUnavailable reports whether err means the store cannot be reached,
// as opposed to a well-formed negative reply.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, redis.ErrPoolTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
