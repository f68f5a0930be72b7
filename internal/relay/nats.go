package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// NATS connection tuning.
const (
	natsMaxReconnects   = 10
	natsReconnectWait   = time.Second
	natsReconnectJitter = 200 * time.Millisecond
	natsMaxPingsOut     = 3
	natsPingInterval    = 10 * time.Second
)

// NATSCoordinator relays frames over a NATS subject. The client
// library multiplexes publish and subscribe on one connection, so no
// dedicated subscriber is needed.
type NATSCoordinator struct {
	lifecycle

	url  string
	conn *nats.Conn
	sub  *nats.Subscription

	drainOnce sync.Once
	drained   chan struct{}
}

// NewNATSCoordinator wires a coordinator over NATS.
func NewNATSCoordinator(url string, logger zerolog.Logger, reg *metrics.Registry) *NATSCoordinator {
	return &NATSCoordinator{
		lifecycle: lifecycle{
			logger:  logger.With().Str("component", "relay").Str("backend", "nats").Logger(),
			metrics: reg,
		},
		url:     url,
		drained: make(chan struct{}),
	}
}

// Start connects to NATS and subscribes to the relay subject.
func (c *NATSCoordinator) Start(ctx context.Context) error {
	if !c.transition(StateStopped, StateStarting) {
		c.logger.Warn().Msg("Coordinator already running")
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.ReconnectJitter(natsReconnectJitter, natsReconnectJitter),
		nats.MaxPingsOutstanding(natsMaxPingsOut),
		nats.PingInterval(natsPingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info().Str("url", conn.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error().Err(err).Msg("NATS error")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			// Terminal: fired after Drain completes or once reconnects
			// are exhausted.
			if c.transition(StateRunning, StateStopped) {
				c.logger.Error().Msg("NATS connection closed; falling back to local fan-out")
			}
			c.drainOnce.Do(func() { close(c.drained) })
		}),
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.setState(StateStopped)
		return fmt.Errorf("connect to NATS: %w", err)
	}

	sub, err := conn.Subscribe(RelayChannel, func(msg *nats.Msg) {
		c.handleFrame(msg.Data)
	})
	if err != nil {
		conn.Close()
		c.setState(StateStopped)
		return fmt.Errorf("subscribe to relay subject: %w", err)
	}

	c.conn = conn
	c.sub = sub
	c.setState(StateRunning)

	c.logger.Info().Str("url", conn.ConnectedUrl()).Str("subject", RelayChannel).Msg("Coordinator started")
	return nil
}

// Publish sends the frame to every worker over the relay subject.
func (c *NATSCoordinator) Publish(_ context.Context, topic string, event *model.Event) error {
	if !c.Running() {
		return ErrNotRunning
	}

	raw, err := json.Marshal(Frame{Topic: topic, Message: event})
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}
	if err := c.conn.Publish(RelayChannel, raw); err != nil {
		return fmt.Errorf("publish relay frame: %w", err)
	}
	c.countOut()
	return nil
}

// Stop drains the connection so in-flight frames are processed before
// the subscription closes.
func (c *NATSCoordinator) Stop(ctx context.Context) error {
	if !c.transition(StateRunning, StateStopping) {
		return nil
	}

	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		c.setState(StateStopped)
		return fmt.Errorf("drain NATS connection: %w", err)
	}

	select {
	case <-c.drained:
	case <-ctx.Done():
		c.conn.Close()
	}
	c.setState(StateStopped)
	c.logger.Info().Msg("Coordinator stopped")
	return nil
}
