package model

import "time"

// WebSocket frame types. Client→server: subscribe, unsubscribe, ping, ack.
// Server→client: subscribed, unsubscribed, message, pong, error.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"
	FrameAck          = "ack"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameMessage      = "message"
	FramePong         = "pong"
	FrameError        = "error"
)

// Error codes used in error frames.
const (
	CodeSubscriptionError  = "SUBSCRIPTION_ERROR"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeProcessingError    = "PROCESSING_ERROR"
)

// Event is the delivery frame pushed to WebSocket sessions and returned
// from long-poll calls. The same shape travels the relay channel.
type Event struct {
	Type      string            `json:"type"`
	MessageID string            `json:"message_id"`
	Topic     string            `json:"topic"`
	Payload   map[string]any    `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewMessageEvent builds the delivery frame for an accepted publish.
func NewMessageEvent(messageID, topic string, payload map[string]any, ts time.Time, metadata map[string]string) *Event {
	return &Event{
		Type:      FrameMessage,
		MessageID: messageID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: ts,
		Metadata:  metadata,
	}
}

// EventFromStored converts a log entry into its delivery frame.
func EventFromStored(m StoredMessage) *Event {
	return NewMessageEvent(m.MessageID, m.Topic, m.Payload, m.Timestamp, m.Metadata)
}

// ClientFrame is the envelope decoded from inbound WebSocket frames; the
// concrete fields used depend on Type.
type ClientFrame struct {
	Type      string   `json:"type"`
	Topics    []string `json:"topics,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Offset    string   `json:"offset,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
}

// SubscribedFrame confirms a subscription.
type SubscribedFrame struct {
	Type      string    `json:"type"`
	Topics    []string  `json:"topics"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// UnsubscribedFrame confirms topics were dropped.
type UnsubscribedFrame struct {
	Type      string    `json:"type"`
	Topics    []string  `json:"topics"`
	Timestamp time.Time `json:"timestamp"`
}

// PongFrame answers an application-level ping.
type PongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame reports a protocol error to the client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
