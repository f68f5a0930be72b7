// Package publish runs the accept pipeline: authorize, resolve the
// topic, append to the log, then fan the event out either through the
// coordinator (multi-worker) or the local hubs (single worker).
package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/hub"
	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/relay"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

// BulkAccessError carries the sorted set of topics a bulk request was
// denied on. No message from the batch is appended when this fires.
type BulkAccessError struct {
	Topics []string
}

func (e *BulkAccessError) Error() string {
	return fmt.Sprintf("access denied to topics: %v", e.Topics)
}

// Publisher accepts messages on behalf of authenticated producers.
type Publisher struct {
	authz       *auth.Service
	log         storage.Log
	localHub    *hub.LocalHub
	pollHub     *hub.PollHub
	coordinator relay.Coordinator // nil when running without one

	logger  zerolog.Logger
	metrics *metrics.Registry
}

// New wires the publish pipeline.
func New(authz *auth.Service, log storage.Log, localHub *hub.LocalHub, pollHub *hub.PollHub, coordinator relay.Coordinator, logger zerolog.Logger, reg *metrics.Registry) *Publisher {
	return &Publisher{
		authz:       authz,
		log:         log,
		localHub:    localHub,
		pollHub:     pollHub,
		coordinator: coordinator,
		logger:      logger.With().Str("component", "publisher").Logger(),
		metrics:     reg,
	}
}

// Publish accepts one message: the actor needs the write permission
// and access to the topic (which is auto-created on first write). The
// assigned message id and timestamp come back to the producer.
func (p *Publisher) Publish(ctx context.Context, actor *model.User, req model.PublishRequest) (*model.MessageResponse, error) {
	if err := p.authz.RequirePermission(actor, model.PermissionWrite); err != nil {
		return nil, err
	}
	if _, err := p.authz.EnsureTopic(ctx, actor, req.Topic); err != nil {
		return nil, err
	}
	return p.accept(ctx, req)
}

// accept appends and fans out a message whose topic access is already
// settled.
func (p *Publisher) accept(ctx context.Context, req model.PublishRequest) (*model.MessageResponse, error) {
	start := time.Now()
	timestamp := start.UTC()

	if p.metrics != nil {
		p.metrics.Messages.Received.WithLabelValues(req.Topic).Inc()
	}

	messageID, err := p.log.Append(ctx, req.Topic, req.Payload, timestamp, req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	event := model.NewMessageEvent(messageID, req.Topic, req.Payload, timestamp, req.Metadata)
	p.fanOut(ctx, req.Topic, event)

	if p.metrics != nil {
		p.metrics.Messages.PublishSeconds.WithLabelValues(req.Topic).Observe(time.Since(start).Seconds())
	}

	return &model.MessageResponse{
		MessageID: messageID,
		Topic:     req.Topic,
		Timestamp: timestamp,
	}, nil
}

// fanOut routes the event through the coordinator when one is running;
// the relayed frame comes back to this worker too, so broadcasting
// locally as well would double-deliver. Without a running coordinator
// (or when its publish fails) the local hubs get the event directly.
func (p *Publisher) fanOut(ctx context.Context, topic string, event *model.Event) {
	if p.coordinator != nil && p.coordinator.Running() {
		if err := p.coordinator.Publish(ctx, topic, event); err == nil {
			return
		} else if !errors.Is(err, relay.ErrNotRunning) {
			p.logger.Error().
				Err(err).
				Str("topic", topic).
				Str("message_id", event.MessageID).
				Msg("Coordinator publish failed; broadcasting locally")
		}
	}

	p.localHub.Broadcast(topic, event)
	p.pollHub.Broadcast(topic, event)
}

// PublishBulk accepts up to 100 messages. Topic access is settled
// upfront for the distinct topic set: if any topic denies, nothing is
// appended and the whole batch fails. Past that gate, per-message
// append errors are recorded without aborting the rest.
func (p *Publisher) PublishBulk(ctx context.Context, actor *model.User, req model.BulkPublishRequest) (*model.BulkPublishResponse, error) {
	if err := p.authz.RequirePermission(actor, model.PermissionWrite); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(req.Messages))
	var denied []string
	for _, msg := range req.Messages {
		if _, ok := seen[msg.Topic]; ok {
			continue
		}
		seen[msg.Topic] = struct{}{}

		if _, err := p.authz.EnsureTopic(ctx, actor, msg.Topic); err != nil {
			var accessErr *auth.TopicAccessError
			if errors.As(err, &accessErr) {
				denied = append(denied, msg.Topic)
				continue
			}
			return nil, err
		}
	}
	if len(denied) > 0 {
		sort.Strings(denied)
		return nil, &BulkAccessError{Topics: denied}
	}

	resp := &model.BulkPublishResponse{
		Results: make([]model.BulkPublishResult, 0, len(req.Messages)),
		Summary: model.BulkSummary{Total: len(req.Messages)},
	}
	for _, msg := range req.Messages {
		accepted, err := p.accept(ctx, msg)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("topic", msg.Topic).
				Msg("Bulk message rejected")
			resp.Results = append(resp.Results, model.BulkPublishResult{
				Topic:  msg.Topic,
				Status: model.BulkRejected,
				Error:  err.Error(),
			})
			resp.Summary.Rejected++
			continue
		}
		resp.Results = append(resp.Results, model.BulkPublishResult{
			MessageID: accepted.MessageID,
			Topic:     msg.Topic,
			Status:    model.BulkAccepted,
		})
		resp.Summary.Accepted++
	}
	return resp, nil
}
