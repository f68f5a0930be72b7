package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/logging"
	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/store"
)

func relayEvent(id, topic string) *model.Event {
	return model.NewMessageEvent(id, topic, map[string]any{"n": 1}, time.Now().UTC(), nil)
}

func newLifecycle() *lifecycle {
	return &lifecycle{logger: logging.Nop(), metrics: metrics.NewRegistry()}
}

func TestLifecycleTransitions(t *testing.T) {
	l := newLifecycle()
	assert.Equal(t, StateStopped, l.State())
	assert.False(t, l.Running())

	assert.True(t, l.transition(StateStopped, StateStarting))
	assert.False(t, l.transition(StateStopped, StateStarting), "double start must not transition")

	l.setState(StateRunning)
	assert.True(t, l.Running())

	assert.True(t, l.transition(StateRunning, StateStopping))
	assert.False(t, l.Running())
	l.setState(StateStopped)
	assert.Equal(t, "stopped", l.State().String())
}

func TestHandleFrameDispatchesToAllHandlers(t *testing.T) {
	l := newLifecycle()

	var mu sync.Mutex
	var got []string
	for i := 0; i < 2; i++ {
		i := i
		l.RegisterHandler(func(topic string, event *model.Event) {
			mu.Lock()
			got = append(got, fmt.Sprintf("h%d:%s:%s", i, topic, event.MessageID))
			mu.Unlock()
		})
	}

	raw, err := json.Marshal(Frame{Topic: "orders", Message: relayEvent("m-1", "orders")})
	require.NoError(t, err)
	l.handleFrame(raw)

	assert.ElementsMatch(t, []string{"h0:orders:m-1", "h1:orders:m-1"}, got)
}

func TestHandleFrameSkipsMalformedInput(t *testing.T) {
	l := newLifecycle()

	called := false
	l.RegisterHandler(func(string, *model.Event) { called = true })

	l.handleFrame([]byte("not json"))
	l.handleFrame([]byte(`{"topic": "", "message": null}`))
	l.handleFrame([]byte(`{"topic": "orders"}`))
	l.handleFrame([]byte(`{"message": {"type": "message"}}`))

	assert.False(t, called, "no handler should fire for malformed frames")
}

func TestHandleFramePanickingHandlerIsContained(t *testing.T) {
	l := newLifecycle()

	l.RegisterHandler(func(string, *model.Event) { panic("boom") })
	var delivered int
	l.RegisterHandler(func(string, *model.Event) { delivered++ })

	raw, err := json.Marshal(Frame{Topic: "orders", Message: relayEvent("m-1", "orders")})
	require.NoError(t, err)

	assert.NotPanics(t, func() { l.handleFrame(raw) })
	assert.Equal(t, 1, delivered, "surviving handlers still run")
}

// Two workers sharing a transport: a frame published by one is decoded
// and fanned out by both, which is how a subscriber attached to any
// worker observes publishes from every worker.
func TestCrossWorkerFanOut(t *testing.T) {
	workerA := newLifecycle()
	workerB := newLifecycle()

	type delivery struct {
		worker string
		id     string
	}
	var mu sync.Mutex
	var deliveries []delivery
	record := func(worker string) Handler {
		return func(_ string, event *model.Event) {
			mu.Lock()
			deliveries = append(deliveries, delivery{worker, event.MessageID})
			mu.Unlock()
		}
	}
	workerA.RegisterHandler(record("a"))
	workerB.RegisterHandler(record("b"))

	// The shared channel: every worker receives every frame,
	// including frames it published itself.
	transport := func(frame Frame) {
		raw, err := json.Marshal(frame)
		require.NoError(t, err)
		workerA.handleFrame(raw)
		workerB.handleFrame(raw)
	}

	transport(Frame{Topic: "orders", Message: relayEvent("m-1", "orders")})
	transport(Frame{Topic: "orders", Message: relayEvent("m-2", "orders")})

	assert.ElementsMatch(t, []delivery{
		{"a", "m-1"}, {"b", "m-1"},
		{"a", "m-2"}, {"b", "m-2"},
	}, deliveries)
}

func TestStoreCoordinatorPublishWhenStopped(t *testing.T) {
	coord := NewStoreCoordinator(nil, store.Config{}, logging.Nop(), metrics.NewRegistry())

	err := coord.Publish(context.Background(), "orders", relayEvent("m-1", "orders"))
	assert.ErrorIs(t, err, ErrNotRunning)

	// Stopping a never-started coordinator is a no-op.
	assert.NoError(t, coord.Stop(context.Background()))
}

func TestNATSCoordinatorPublishWhenStopped(t *testing.T) {
	coord := NewNATSCoordinator("nats://localhost:4222", logging.Nop(), metrics.NewRegistry())

	err := coord.Publish(context.Background(), "orders", relayEvent("m-1", "orders"))
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, coord.Stop(context.Background()))
}
