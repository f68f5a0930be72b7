package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// waiterQueueSize bounds how many undelivered events a parked poll
// request may accumulate. Overflow drops the oldest event for that
// waiter; poll clients recover through their cursor on the next call.
const waiterQueueSize = 100

// Waiter is one parked long-poll request waiting for events.
type Waiter struct {
	id        string
	topics    []string
	queue     chan *model.Event
	createdAt time.Time
}

// ID returns the waiter's registration id.
func (w *Waiter) ID() string { return w.id }

// enqueue adds an event without ever blocking the hub. When the queue
// is full the oldest undelivered event is dropped to make room.
func (w *Waiter) enqueue(event *model.Event) {
	for {
		select {
		case w.queue <- event:
			return
		default:
		}
		select {
		case <-w.queue:
		default:
		}
	}
}

// WaitForMessages blocks up to timeout for the first event, then
// drains whatever else is immediately available. Returns an empty
// batch on timeout or request cancellation.
func (w *Waiter) WaitForMessages(ctx context.Context, timeout time.Duration) []*model.Event {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var events []*model.Event
	select {
	case event := <-w.queue:
		events = append(events, event)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}

	for {
		select {
		case event := <-w.queue:
			events = append(events, event)
		default:
			return events
		}
	}
}

// PollHub registers long-poll waiters by topic and routes broadcasts
// into their queues.
type PollHub struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
	byTopic map[string]map[string]struct{}

	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewPollHub creates an empty poll hub.
func NewPollHub(logger zerolog.Logger, reg *metrics.Registry) *PollHub {
	return &PollHub{
		waiters: make(map[string]*Waiter),
		byTopic: make(map[string]map[string]struct{}),
		logger:  logger.With().Str("component", "poll_hub").Logger(),
		metrics: reg,
	}
}

// CreateWaiter registers a fresh waiter under each topic.
func (h *PollHub) CreateWaiter(topics []string) *Waiter {
	waiter := &Waiter{
		id:        uuid.NewString(),
		topics:    append([]string(nil), topics...),
		queue:     make(chan *model.Event, waiterQueueSize),
		createdAt: time.Now().UTC(),
	}

	h.mu.Lock()
	h.waiters[waiter.id] = waiter
	for _, topic := range topics {
		if h.byTopic[topic] == nil {
			h.byTopic[topic] = make(map[string]struct{})
		}
		h.byTopic[topic][waiter.id] = struct{}{}
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Poll.ActiveWaiters.Inc()
	}
	h.logger.Debug().
		Str("waiter_id", waiter.id).
		Strs("topics", topics).
		Msg("Created poll waiter")

	return waiter
}

// RemoveWaiter deregisters the waiter from every topic. Removing an
// already-removed id is a no-op.
func (h *PollHub) RemoveWaiter(id string) {
	h.mu.Lock()
	waiter, ok := h.waiters[id]
	if ok {
		delete(h.waiters, id)
		for _, topic := range waiter.topics {
			subscribers := h.byTopic[topic]
			delete(subscribers, id)
			if len(subscribers) == 0 {
				delete(h.byTopic, topic)
			}
		}
	}
	h.mu.Unlock()

	if ok && h.metrics != nil {
		h.metrics.Poll.ActiveWaiters.Dec()
	}
}

// Broadcast enqueues the event to every waiter on the topic and
// reports how many received it.
func (h *PollHub) Broadcast(topic string, event *model.Event) int {
	h.mu.Lock()
	targets := make([]*Waiter, 0, len(h.byTopic[topic]))
	for id := range h.byTopic[topic] {
		if waiter, ok := h.waiters[id]; ok {
			targets = append(targets, waiter)
		}
	}
	h.mu.Unlock()

	for _, waiter := range targets {
		waiter.enqueue(event)
	}
	return len(targets)
}

// ReapStale removes waiters older than maxAge and reports the count.
// The poll request path removes its own waiter; this sweeps leftovers
// from requests that never reached their cleanup.
func (h *PollHub) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	h.mu.Lock()
	var stale []string
	for id, waiter := range h.waiters {
		if waiter.createdAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.RemoveWaiter(id)
	}

	if len(stale) > 0 {
		h.logger.Info().Int("count", len(stale)).Msg("Cleaned up stale poll waiters")
	}
	return len(stale)
}

// PollStats summarizes the hub for the stats surface.
type PollStats struct {
	ActiveWaiters    int            `json:"active_waiters"`
	SubscribedTopics int            `json:"subscribed_topics"`
	TopicSubscribers map[string]int `json:"topic_subscriber_counts"`
}

// Stats snapshots waiter counts.
func (h *PollHub) Stats() PollStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int, len(h.byTopic))
	for topic, ids := range h.byTopic {
		counts[topic] = len(ids)
	}
	return PollStats{
		ActiveWaiters:    len(h.waiters),
		SubscribedTopics: len(h.byTopic),
		TopicSubscribers: counts,
	}
}
