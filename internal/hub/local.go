// Package hub fans accepted events out to the subscribers attached to
// this process: live WebSocket sessions (LocalHub) and parked long-poll
// requests (PollHub). Both hubs receive every event exactly once,
// whether it originated locally or arrived over the relay channel.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// Session is one attached WebSocket subscriber. Deliver must not
// block; an error marks the session as too slow to keep and the hub
// evicts and closes it after the fan-out.
type Session interface {
	ID() string
	Deliver(frame []byte) error
	Close()
}

// LocalHub tracks which sessions subscribe to which topics. Both maps
// mutate under one mutex; broadcasts snapshot under the lock and
// deliver outside it so a slow session never blocks registration.
type LocalHub struct {
	mu        sync.RWMutex
	byTopic   map[string]map[Session]struct{}
	bySession map[Session]map[string]struct{}

	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewLocalHub creates an empty hub.
func NewLocalHub(logger zerolog.Logger, reg *metrics.Registry) *LocalHub {
	return &LocalHub{
		byTopic:   make(map[string]map[Session]struct{}),
		bySession: make(map[Session]map[string]struct{}),
		logger:    logger.With().Str("component", "local_hub").Logger(),
		metrics:   reg,
	}
}

// Connect subscribes the session to each topic.
func (h *LocalHub) Connect(session Session, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.bySession[session] == nil {
		h.bySession[session] = make(map[string]struct{})
	}
	for _, topic := range topics {
		if h.byTopic[topic] == nil {
			h.byTopic[topic] = make(map[Session]struct{})
		}
		h.byTopic[topic][session] = struct{}{}
		h.bySession[session][topic] = struct{}{}
	}

	h.logger.Info().
		Str("session_id", session.ID()).
		Strs("topics", topics).
		Msg("Session subscribed")
}

// Unsubscribe drops the session from the given topics only.
func (h *LocalHub) Unsubscribe(session Session, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribed, ok := h.bySession[session]
	if !ok {
		return
	}
	for _, topic := range topics {
		h.dropSubscription(topic, session)
		delete(subscribed, topic)
	}
}

// Disconnect removes the session from every topic.
func (h *LocalHub) Disconnect(session Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribed, ok := h.bySession[session]
	if !ok {
		return
	}
	for topic := range subscribed {
		h.dropSubscription(topic, session)
	}
	delete(h.bySession, session)
}

// dropSubscription removes one topic->session edge. Caller holds the lock.
func (h *LocalHub) dropSubscription(topic string, session Session) {
	sessions, ok := h.byTopic[topic]
	if !ok {
		return
	}
	delete(sessions, session)
	if len(sessions) == 0 {
		delete(h.byTopic, topic)
	}
}

// Broadcast delivers the event to every session subscribed to the
// topic and reports the delivery count. The frame is marshaled once.
// Failed sessions are evicted and closed after the fan-out so one slow
// peer cannot hold the lock against everyone else.
func (h *LocalHub) Broadcast(topic string, event *model.Event) int {
	frame, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return 0
	}

	h.mu.RLock()
	sessions := make([]Session, 0, len(h.byTopic[topic]))
	for session := range h.byTopic[topic] {
		sessions = append(sessions, session)
	}
	h.mu.RUnlock()

	var failed []Session
	delivered := 0
	for _, session := range sessions {
		if err := session.Deliver(frame); err != nil {
			failed = append(failed, session)
			continue
		}
		delivered++
	}

	if h.metrics != nil {
		h.metrics.Sockets.BroadcastDelivered.Add(float64(delivered))
		h.metrics.Sockets.BroadcastDropped.Add(float64(len(failed)))
	}

	for _, session := range failed {
		h.logger.Warn().
			Str("session_id", session.ID()).
			Str("topic", topic).
			Msg("Evicting slow session")
		h.Disconnect(session)
		session.Close()
	}

	return delivered
}

// ConnectionCount reports the number of attached sessions.
func (h *LocalHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession)
}

// TopicsForSession returns a copy of the session's subscriptions.
func (h *LocalHub) TopicsForSession(session Session) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topics := make([]string, 0, len(h.bySession[session]))
	for topic := range h.bySession[session] {
		topics = append(topics, topic)
	}
	return topics
}

// LocalStats summarizes the hub for the stats surface.
type LocalStats struct {
	ActiveConnections int            `json:"active_connections"`
	SubscribedTopics  int            `json:"subscribed_topics"`
	TopicSubscribers  map[string]int `json:"topic_subscriber_counts"`
}

// Stats snapshots subscription counts.
func (h *LocalHub) Stats() LocalStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.byTopic))
	for topic, sessions := range h.byTopic {
		counts[topic] = len(sessions)
	}
	return LocalStats{
		ActiveConnections: len(h.bySession),
		SubscribedTopics:  len(h.byTopic),
		TopicSubscribers:  counts,
	}
}

// CloseAll disconnects and closes every session. Used at shutdown.
func (h *LocalHub) CloseAll() {
	h.mu.Lock()
	sessions := make([]Session, 0, len(h.bySession))
	for session := range h.bySession {
		sessions = append(sessions, session)
	}
	h.byTopic = make(map[string]map[Session]struct{})
	h.bySession = make(map[Session]map[string]struct{})
	h.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
