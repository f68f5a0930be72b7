// Package relay makes every accepted event visible to every relay
// process. Each worker publishes its events on one shared channel and
// fans inbound frames out through its local hubs, so a subscriber
// attached to any worker sees the whole topic stream.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/logging"
	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// RelayChannel is the single channel all workers share. Per-topic
// ordering holds because every frame for a topic traverses it
// sequentially.
const RelayChannel = "relay:messages"

// ErrNotRunning is returned by Publish when the coordinator has no
// live channel; callers fall back to local fan-out.
var ErrNotRunning = errors.New("coordinator is not running")

// Frame is the envelope carried on the relay channel.
type Frame struct {
	Topic   string       `json:"topic"`
	Message *model.Event `json:"message"`
}

// Handler consumes one relayed event on the receiving side.
type Handler func(topic string, event *model.Event)

// Coordinator distributes events across workers. Implementations exist
// for the Redis-protocol store and for NATS.
type Coordinator interface {
	// RegisterHandler adds a fan-out target. Register before Start.
	RegisterHandler(handler Handler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Publish sends the event to every worker, including this one.
	Publish(ctx context.Context, topic string, event *model.Event) error
	Running() bool
}

// State tracks the coordinator lifecycle.
type State int

// Lifecycle states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// lifecycle carries the state machine, handler registry, and frame
// codec shared by the coordinator implementations.
type lifecycle struct {
	mu       sync.Mutex
	state    State
	handlers []Handler

	logger  zerolog.Logger
	metrics *metrics.Registry
}

// RegisterHandler adds a fan-out target.
func (l *lifecycle) RegisterHandler(handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Running reports whether frames are currently flowing.
func (l *lifecycle) Running() bool {
	return l.State() == StateRunning
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// transition moves from -> to atomically; reports false when the
// current state is not from.
func (l *lifecycle) transition(from, to State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return false
	}
	l.state = to
	return true
}

func (l *lifecycle) setState(state State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
}

// handleFrame decodes one inbound frame and dispatches it. Malformed
// frames are logged and skipped; the receive loop keeps going.
func (l *lifecycle) handleFrame(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		l.logger.Warn().Err(err).Msg("Ignoring malformed relay frame")
		return
	}
	if frame.Topic == "" || frame.Message == nil {
		l.logger.Warn().Msg("Ignoring incomplete relay frame")
		return
	}

	if l.metrics != nil {
		l.metrics.Relay.Frames.WithLabelValues("in").Inc()
	}
	l.dispatch(frame.Topic, frame.Message)
}

// dispatch invokes every registered handler. A panicking handler is
// logged and skipped so one bad fan-out target cannot kill the loop.
func (l *lifecycle) dispatch(topic string, event *model.Event) {
	l.mu.Lock()
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	for _, handler := range handlers {
		l.runHandler(handler, topic, event)
	}
}

func (l *lifecycle) runHandler(handler Handler, topic string, event *model.Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(l.logger, r, "Relay handler panicked")
		}
	}()
	handler(topic, event)
}

// countOut records one frame successfully published.
func (l *lifecycle) countOut() {
	if l.metrics != nil {
		l.metrics.Relay.Frames.WithLabelValues("out").Inc()
	}
}
