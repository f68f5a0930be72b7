package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// streamKeyPrefix namespaces per-topic streams in the store.
const streamKeyPrefix = "stream:topic:"

// StreamLog persists topic logs as store streams. The store-assigned
// stream entry id (`<ms>-<seq>`, lexicographically ordered) is the
// message_id, so cursors are native stream range bounds.
type StreamLog struct {
	client    *redis.Client
	cap       int64
	retention time.Duration
}

// NewStreamLog wraps an existing store client. retention > 0 refreshes
// each stream key's TTL on append so idle topics age out.
func NewStreamLog(client *redis.Client, maxMessages int64, retention time.Duration) *StreamLog {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	return &StreamLog{client: client, cap: maxMessages, retention: retention}
}

func streamKey(topic string) string {
	return streamKeyPrefix + topic
}

// Append XADDs the message and trims the stream to the cap. Exact trim:
// approximate trimming can leave the stream over the cap.
func (l *StreamLog) Append(ctx context.Context, topic string, payload map[string]any, ts time.Time, metadata map[string]string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	values := map[string]any{
		"payload":   string(data),
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	}
	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		values["metadata"] = string(meta)
	}

	key := streamKey(topic)
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", topic, err)
	}

	if err := l.client.XTrimMaxLen(ctx, key, l.cap).Err(); err != nil {
		return "", fmt.Errorf("xtrim %s: %w", topic, err)
	}
	if l.retention > 0 {
		if err := l.client.Expire(ctx, key, l.retention).Err(); err != nil {
			return "", fmt.Errorf("expire %s: %w", topic, err)
		}
	}
	return id, nil
}

// Range reads with native stream range queries; the cursor maps to an
// exclusive bound.
func (l *StreamLog) Range(ctx context.Context, topic, cursor string, limit int64, reverse bool) ([]model.StoredMessage, error) {
	limit = clampLimit(limit)
	key := streamKey(topic)

	var (
		entries []redis.XMessage
		err     error
	)
	if reverse {
		start := "+"
		if cursor != "" {
			start = "(" + cursor
		}
		entries, err = l.client.XRevRangeN(ctx, key, start, "-", limit).Result()
	} else {
		start := "-"
		if cursor != "" {
			start = "(" + cursor
		}
		entries, err = l.client.XRangeN(ctx, key, start, "+", limit).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", topic, err)
	}

	out := make([]model.StoredMessage, 0, len(entries))
	for _, entry := range entries {
		msg, err := decodeEntry(topic, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeEntry(topic string, entry redis.XMessage) (model.StoredMessage, error) {
	msg := model.StoredMessage{MessageID: entry.ID, Topic: topic}

	if raw, ok := entry.Values["payload"].(string); ok {
		if err := json.Unmarshal([]byte(raw), &msg.Payload); err != nil {
			return msg, fmt.Errorf("decode payload of %s/%s: %w", topic, entry.ID, err)
		}
	}
	if raw, ok := entry.Values["timestamp"].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return msg, fmt.Errorf("decode timestamp of %s/%s: %w", topic, entry.ID, err)
		}
		msg.Timestamp = ts
	}
	if raw, ok := entry.Values["metadata"].(string); ok {
		if err := json.Unmarshal([]byte(raw), &msg.Metadata); err != nil {
			return msg, fmt.Errorf("decode metadata of %s/%s: %w", topic, entry.ID, err)
		}
	}
	return msg, nil
}

// Length reports the stream length; a missing stream reads as zero.
func (l *StreamLog) Length(ctx context.Context, topic string) (int64, error) {
	n, err := l.client.XLen(ctx, streamKey(topic)).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", topic, err)
	}
	return n, nil
}

// Trim keeps the most recent keep entries.
func (l *StreamLog) Trim(ctx context.Context, topic string, keep int64) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	removed, err := l.client.XTrimMaxLen(ctx, streamKey(topic), keep).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s: %w", topic, err)
	}
	return removed, nil
}

// DeleteTopic drops the topic's stream key.
func (l *StreamLog) DeleteTopic(ctx context.Context, topic string) error {
	if err := l.client.Del(ctx, streamKey(topic)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", topic, err)
	}
	return nil
}

// HealthCheck pings the store.
func (l *StreamLog) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Stats scans the stream keyspace. Linear in the number of topics; meant
// for the admin stats surface, not hot paths.
func (l *StreamLog) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Backend: "store"}

	iter := l.client.Scan(ctx, 0, streamKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		s.Topics++
		n, err := l.client.XLen(ctx, iter.Val()).Result()
		if err != nil {
			return s, fmt.Errorf("xlen %s: %w", iter.Val(), err)
		}
		s.Messages += n
	}
	if err := iter.Err(); err != nil {
		return s, fmt.Errorf("scan streams: %w", err)
	}
	return s, nil
}
