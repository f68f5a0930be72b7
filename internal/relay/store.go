package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/store"
)

// StoreCoordinator relays frames over the store's pub/sub. Publishing
// reuses the shared store client; the subscription runs on a dedicated
// client because a subscribed connection cannot issue other commands.
type StoreCoordinator struct {
	lifecycle

	publisher     redis.UniversalClient
	subscriberCfg store.Config

	subscriber *redis.Client
	pubsub     *redis.PubSub
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewStoreCoordinator wires a coordinator over the store's pub/sub.
func NewStoreCoordinator(publisher redis.UniversalClient, subscriberCfg store.Config, logger zerolog.Logger, reg *metrics.Registry) *StoreCoordinator {
	return &StoreCoordinator{
		lifecycle: lifecycle{
			logger:  logger.With().Str("component", "relay").Str("backend", "store").Logger(),
			metrics: reg,
		},
		publisher:     publisher,
		subscriberCfg: subscriberCfg,
	}
}

// Start opens the subscriber connection, confirms the subscription,
// and launches the receive loop.
func (c *StoreCoordinator) Start(ctx context.Context) error {
	if !c.transition(StateStopped, StateStarting) {
		c.logger.Warn().Msg("Coordinator already running")
		return nil
	}

	subscriber := store.New(c.subscriberCfg)
	pubsub := subscriber.Subscribe(ctx, RelayChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		subscriber.Close()
		c.setState(StateStopped)
		return fmt.Errorf("subscribe to relay channel: %w", err)
	}

	c.subscriber = subscriber
	c.pubsub = pubsub
	c.done = make(chan struct{})

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setState(StateRunning)
	go c.receiveLoop(loopCtx)

	c.logger.Info().Str("channel", RelayChannel).Msg("Coordinator started")
	return nil
}

// receiveLoop pumps frames until the subscription dies or Stop cancels
// it. An unexpected termination parks the coordinator in Stopped so
// publishers switch to local-only fan-out.
func (c *StoreCoordinator) receiveLoop(ctx context.Context) {
	defer close(c.done)

	ch := c.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				if c.transition(StateRunning, StateStopped) {
					c.logger.Error().Msg("Relay subscription lost; falling back to local fan-out")
				}
				return
			}
			c.handleFrame([]byte(msg.Payload))
		}
	}
}

// Publish sends the frame to every worker over the shared channel.
func (c *StoreCoordinator) Publish(ctx context.Context, topic string, event *model.Event) error {
	if !c.Running() {
		return ErrNotRunning
	}

	raw, err := json.Marshal(Frame{Topic: topic, Message: event})
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}
	if err := c.publisher.Publish(ctx, RelayChannel, raw).Err(); err != nil {
		return fmt.Errorf("publish relay frame: %w", err)
	}
	c.countOut()
	return nil
}

// Stop cancels the receive loop and closes the subscriber connection.
func (c *StoreCoordinator) Stop(ctx context.Context) error {
	if !c.transition(StateRunning, StateStopping) {
		return nil
	}

	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
	}

	err := c.pubsub.Close()
	if closeErr := c.subscriber.Close(); err == nil {
		err = closeErr
	}
	c.setState(StateStopped)
	c.logger.Info().Msg("Coordinator stopped")
	return err
}
