package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

func wsURL(relay *testRelay, token string) string {
	return strings.Replace(relay.http.URL, "http://", "ws://", 1) + "/ws?token=" + token
}

// dialWS opens a WebSocket connection; the caller still has to send
// the subscribe frame.
func dialWS(t *testing.T, relay *testRelay, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(relay, token), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

// subscribeWS performs the mandatory first-frame handshake.
func subscribeWS(t *testing.T, conn *websocket.Conn, topics ...string) model.SubscribedFrame {
	t.Helper()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "subscribe",
		"topics":    topics,
		"client_id": "test-client",
	}))

	var sub model.SubscribedFrame
	readFrame(t, conn, &sub)
	require.Equal(t, model.FrameSubscribed, sub.Type)
	require.Equal(t, topics, sub.Topics)
	require.NotEmpty(t, sub.SessionID)
	return sub
}

// expectClose asserts the next read fails with a policy-violation close
// carrying the given reason.
func expectClose(t *testing.T, conn *websocket.Conn, reason string) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			// Skip frames queued before the close.
			continue
		}
		require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
			"expected 1008 close, got %v", err)
		if reason != "" {
			closeErr := err.(*websocket.CloseError)
			assert.Equal(t, reason, closeErr.Text)
		}
		return
	}
}

func TestWebSocketSubscribeAndReceive(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	sub := subscribeWS(t, conn, "live")
	assert.True(t, strings.HasPrefix(sub.SessionID, "sess_"))

	ack := relay.publish(t, token, "live", map[string]any{"price": 99.5})

	var event model.Event
	readFrame(t, conn, &event)
	assert.Equal(t, model.FrameMessage, event.Type)
	assert.Equal(t, ack.MessageID, event.MessageID)
	assert.Equal(t, "live", event.Topic)
	assert.Equal(t, 99.5, event.Payload["price"])
}

func TestWebSocketMultiTopicFanout(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	first := dialWS(t, relay, token)
	subscribeWS(t, first, "alpha", "beta")
	second := dialWS(t, relay, token)
	subscribeWS(t, second, "beta")

	relay.publish(t, token, "beta", map[string]any{"n": 1})

	var event model.Event
	readFrame(t, first, &event)
	assert.Equal(t, "beta", event.Topic)
	readFrame(t, second, &event)
	assert.Equal(t, "beta", event.Topic)

	// Only the first session hears alpha.
	relay.publish(t, token, "alpha", map[string]any{"n": 2})
	readFrame(t, first, &event)
	assert.Equal(t, "alpha", event.Topic)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	relay := newDefaultRelay(t)

	conn := dialWS(t, relay, "garbage-token")
	expectClose(t, conn, "Invalid or expired token")
}

func TestWebSocketRequiresReadPermission(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodPost, "/auth/register", admin, model.UserCreate{
		Username:    "ws-writer",
		Password:    "password123",
		Permissions: []string{"write"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	token := relay.login(t, "ws-writer", "password123")

	conn := dialWS(t, relay, token)
	expectClose(t, conn, "Permission 'read' required")
}

func TestWebSocketSubscribeValidation(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "subscribe",
		"topics":    []string{},
		"client_id": "test-client",
	}))

	var errFrame model.ErrorFrame
	readFrame(t, conn, &errFrame)
	assert.Equal(t, model.FrameError, errFrame.Type)
	assert.Equal(t, model.CodeSubscriptionError, errFrame.Code)
	assert.Equal(t, "Failed to subscribe: topics: must contain 1-50 topics", errFrame.Message)

	expectClose(t, conn, "")
}

func TestWebSocketPingPong(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	subscribeWS(t, conn, "heartbeat")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))

	var pong model.PongFrame
	readFrame(t, conn, &pong)
	assert.Equal(t, model.FramePong, pong.Type)
	assert.False(t, pong.Timestamp.IsZero())
}

func TestWebSocketUnsubscribe(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	subscribeWS(t, conn, "fleeting")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "unsubscribe",
		"topics": []string{"fleeting"},
	}))

	var unsub model.UnsubscribedFrame
	readFrame(t, conn, &unsub)
	assert.Equal(t, model.FrameUnsubscribed, unsub.Type)
	assert.Equal(t, []string{"fleeting"}, unsub.Topics)

	// Messages published after the unsubscribe never reach the session;
	// the next frame through is the pong.
	relay.publish(t, token, "fleeting", map[string]any{"n": 1})
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))

	var pong model.PongFrame
	readFrame(t, conn, &pong)
	assert.Equal(t, model.FramePong, pong.Type)
}

func TestWebSocketUnknownTypeKeepsSessionAlive(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	subscribeWS(t, conn, "resilient")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))

	var errFrame model.ErrorFrame
	readFrame(t, conn, &errFrame)
	assert.Equal(t, model.CodeUnknownMessageType, errFrame.Code)
	assert.Equal(t, "Unknown message type: bogus", errFrame.Message)

	// Still connected.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var pong model.PongFrame
	readFrame(t, conn, &pong)
	assert.Equal(t, model.FramePong, pong.Type)
}

func TestWebSocketAckAccepted(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	subscribeWS(t, conn, "acked")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       "ack",
		"message_id": "msg-1",
	}))

	// Acks produce no reply; the session keeps working.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var pong model.PongFrame
	readFrame(t, conn, &pong)
	assert.Equal(t, model.FramePong, pong.Type)
}

func TestWebSocketMalformedFrame(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	subscribeWS(t, conn, "strict")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	var errFrame model.ErrorFrame
	readFrame(t, conn, &errFrame)
	assert.Equal(t, model.CodeProcessingError, errFrame.Code)
}

func TestWebSocketCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerInstance = 1
	relay := newTestRelay(t, cfg)
	token := relay.login(t, "user", "user1234")

	conn := dialWS(t, relay, token)
	subscribeWS(t, conn, "crowded")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(relay, token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Server at capacity, please try again later", body.Detail)
}
