// Package storage provides the per-topic append-only message log: an
// in-memory implementation for single-process deployments and a
// stream-backed implementation over a Redis-protocol store.
package storage

import (
	"context"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// MaxRangeLimit bounds every range read.
const MaxRangeLimit = 100

// Log is a per-topic append-only message log. message_ids are assigned
// at append time, strictly increasing within a topic, and serve as
// exclusive range cursors.
type Log interface {
	// Append stores one message and returns its assigned id. The topic
	// is trimmed to the configured cap after the write.
	Append(ctx context.Context, topic string, payload map[string]any, ts time.Time, metadata map[string]string) (string, error)

	// Range returns at most limit entries (capped at MaxRangeLimit).
	// Without a cursor: the oldest limit entries, or the newest when
	// reverse is set. With a cursor: entries strictly after it, or
	// strictly before it in reverse order. The cursor itself is never
	// included.
	Range(ctx context.Context, topic, cursor string, limit int64, reverse bool) ([]model.StoredMessage, error)

	// Length reports the number of retained entries.
	Length(ctx context.Context, topic string) (int64, error)

	// Trim keeps the most recent keep entries and reports how many were
	// removed.
	Trim(ctx context.Context, topic string, keep int64) (int64, error)

	// DeleteTopic discards the topic's entries. Deleting an absent
	// topic is a no-op.
	DeleteTopic(ctx context.Context, topic string) error

	// HealthCheck verifies the backing store answers.
	HealthCheck(ctx context.Context) error
}

// Stats summarizes a log backend for the stats surface.
type Stats struct {
	Backend  string `json:"backend"`
	Topics   int64  `json:"topics"`
	Messages int64  `json:"messages"`
}

// StatsReporter is an optional capability of Log implementations.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

func clampLimit(limit int64) int64 {
	if limit <= 0 || limit > MaxRangeLimit {
		return MaxRangeLimit
	}
	return limit
}
