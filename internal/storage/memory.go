package storage

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// MemoryLog keeps per-topic logs in process memory. Suited to a single
// worker; a fleet shares history through the stream-backed log instead.
type MemoryLog struct {
	cap int64

	mu     sync.RWMutex
	topics map[string]*memTopic
}

// memTopic holds one topic's retained entries. base is the absolute
// sequence number of entries[0]; index maps message_id to its absolute
// sequence so cursor lookups cost O(1) regardless of topic length.
type memTopic struct {
	mu      sync.Mutex
	base    int64
	entries []model.StoredMessage
	index   map[string]int64
}

// NewMemoryLog creates a memory log trimming each topic to maxMessages.
func NewMemoryLog(maxMessages int64) *MemoryLog {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	return &MemoryLog{
		cap:    maxMessages,
		topics: make(map[string]*memTopic),
	}
}

func newMessageID() string {
	id := uuid.New()
	return "msg_" + hex.EncodeToString(id[:6])
}

func (l *MemoryLog) topic(name string, create bool) *memTopic {
	l.mu.RLock()
	t := l.topics[name]
	l.mu.RUnlock()
	if t != nil || !create {
		return t
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if t = l.topics[name]; t == nil {
		t = &memTopic{index: make(map[string]int64)}
		l.topics[name] = t
	}
	return t
}

// Append stores one message and trims the topic to the cap.
func (l *MemoryLog) Append(_ context.Context, topic string, payload map[string]any, ts time.Time, metadata map[string]string) (string, error) {
	t := l.topic(topic, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	id := newMessageID()
	t.entries = append(t.entries, model.StoredMessage{
		MessageID: id,
		Topic:     topic,
		Payload:   payload,
		Timestamp: ts,
		Metadata:  metadata,
	})
	t.index[id] = t.base + int64(len(t.entries)) - 1

	if int64(len(t.entries)) > l.cap {
		t.dropOldest(int64(len(t.entries)) - l.cap)
	}
	return id, nil
}

// dropOldest removes n entries from the front. Caller holds t.mu.
// Reslicing leaves the backing array in place; append's normal growth
// reallocates it, so memory stays proportional to the cap.
func (t *memTopic) dropOldest(n int64) {
	if n > int64(len(t.entries)) {
		n = int64(len(t.entries))
	}
	for _, e := range t.entries[:n] {
		delete(t.index, e.MessageID)
	}
	t.entries = t.entries[n:]
	t.base += n
}

// Range returns up to limit entries around the exclusive cursor. An
// unknown or already-trimmed cursor reads from the start (or the newest,
// in reverse), matching a client whose cursor aged out.
func (l *MemoryLog) Range(_ context.Context, topic, cursor string, limit int64, reverse bool) ([]model.StoredMessage, error) {
	limit = clampLimit(limit)

	t := l.topic(topic, false)
	if t == nil {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := int64(len(t.entries))
	var lo, hi int64 // half-open window into entries

	if reverse {
		hi = n
		if cursor != "" {
			if seq, ok := t.index[cursor]; ok {
				hi = seq - t.base
			}
		}
		lo = hi - limit
		if lo < 0 {
			lo = 0
		}
	} else {
		lo = 0
		if cursor != "" {
			if seq, ok := t.index[cursor]; ok {
				lo = seq - t.base + 1
			}
		}
		hi = lo + limit
		if hi > n {
			hi = n
		}
	}
	if lo >= hi {
		return nil, nil
	}

	out := make([]model.StoredMessage, hi-lo)
	copy(out, t.entries[lo:hi])
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// Length reports the number of retained entries for the topic.
func (l *MemoryLog) Length(_ context.Context, topic string) (int64, error) {
	t := l.topic(topic, false)
	if t == nil {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.entries)), nil
}

// Trim keeps the most recent keep entries.
func (l *MemoryLog) Trim(_ context.Context, topic string, keep int64) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	t := l.topic(topic, false)
	if t == nil {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	excess := int64(len(t.entries)) - keep
	if excess <= 0 {
		return 0, nil
	}
	t.dropOldest(excess)
	return excess, nil
}

// DeleteTopic discards the topic and its entries.
func (l *MemoryLog) DeleteTopic(_ context.Context, topic string) error {
	l.mu.Lock()
	delete(l.topics, topic)
	l.mu.Unlock()
	return nil
}

// HealthCheck always succeeds for the memory backend.
func (l *MemoryLog) HealthCheck(context.Context) error {
	return nil
}

// Stats reports topic and message counts.
func (l *MemoryLog) Stats(context.Context) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{Backend: "memory", Topics: int64(len(l.topics))}
	for _, t := range l.topics {
		t.mu.Lock()
		s.Messages += int64(len(t.entries))
		t.mu.Unlock()
	}
	return s, nil
}
