package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/hub"
	"github.com/mvdbeek/pulsar-relay/internal/logging"
	"github.com/mvdbeek/pulsar-relay/internal/metrics"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound frame queue per session. A session that falls this far
	// behind is evicted as a slow consumer.
	sendBuffer = 256
)

var (
	errSessionClosed = errors.New("session closed")
	errSlowConsumer  = errors.New("session send queue full")
)

// session is one WebSocket subscriber attached to the LocalHub. The
// write pump owns all writes to the connection; Deliver only queues.
type session struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	// closeCode is written once, inside the same once that closes the
	// closed channel, so the write pump reads it race-free.
	closeCode int
}

func newSession(conn *websocket.Conn) *session {
	u := uuid.New()
	return &session{
		id:     "sess_" + hex.EncodeToString(u[:])[:12],
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// ID implements hub.Session.
func (s *session) ID() string { return s.id }

// Deliver queues a frame without blocking. A full queue reports the
// session as too slow to keep.
func (s *session) Deliver(frame []byte) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close signals the write pump to flush pending frames, send a close
// frame with code 1008, and drop the connection. Safe to call
// repeatedly from any goroutine.
func (s *session) Close() {
	s.closeWith(websocket.ClosePolicyViolation)
}

func (s *session) closeWith(code int) {
	s.once.Do(func() {
		s.closeCode = code
		close(s.closed)
	})
}

// wsHandler serves the /ws endpoint.
type wsHandler struct {
	svc      *auth.Service
	hub      *hub.LocalHub
	metrics  *metrics.Registry
	logger   zerolog.Logger
	slots    chan struct{}
	maxFrame int64
	upgrader websocket.Upgrader
}

func newWSHandler(svc *auth.Service, localHub *hub.LocalHub, reg *metrics.Registry, logger zerolog.Logger, maxConnections int, maxFrame int64) *wsHandler {
	return &wsHandler{
		svc:      svc,
		hub:      localHub,
		metrics:  reg,
		logger:   logger.With().Str("component", "websocket").Logger(),
		slots:    make(chan struct{}, maxConnections),
		maxFrame: maxFrame,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				// Token auth happens after the upgrade; origin is not
				// part of the access decision.
				return true
			},
		},
	}
}

// Serve runs one WebSocket session for the life of the connection.
// The token travels as a query parameter and is checked after the
// upgrade so the client receives a close frame with a reason instead
// of a bare HTTP error.
func (h *wsHandler) Serve(c *gin.Context) {
	select {
	case h.slots <- struct{}{}:
		defer func() { <-h.slots }()
	default:
		h.logger.Warn().
			Int("max_connections", cap(h.slots)).
			Msg("WebSocket connection rejected: server at capacity")
		detail(c, http.StatusServiceUnavailable, "Server at capacity, please try again later")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.metrics.Sockets.Connections.Inc()
	h.metrics.Sockets.ActiveConnections.Inc()
	defer func() {
		h.metrics.Sockets.Disconnections.Inc()
		h.metrics.Sockets.ActiveConnections.Dec()
	}()

	user, err := h.svc.Authenticate(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.closePolicy(conn, authCloseReason(err))
		return
	}
	if !user.HasPermission(model.PermissionRead) {
		h.closePolicy(conn, "Permission 'read' required")
		return
	}

	sess := newSession(conn)
	log := h.logger.With().
		Str("session_id", sess.id).
		Str("username", user.Username).
		Logger()
	log.Info().Msg("WebSocket connection accepted")

	go h.writePump(sess)
	defer sess.Close()

	conn.SetReadLimit(h.maxFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if !h.subscribe(sess, log) {
		return
	}
	defer func() {
		h.hub.Disconnect(sess)
		log.Info().Msg("WebSocket connection closed")
	}()
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(log, r, "WebSocket session panicked")
			sess.closeWith(websocket.CloseInternalServerErr)
		}
	}()

	h.readLoop(sess, log)
}

// closePolicy rejects the connection with close code 1008.
func (h *wsHandler) closePolicy(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	conn.Close()
}

func authCloseReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return "Invalid or expired token"
	case errors.Is(err, auth.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, auth.ErrInactiveUser):
		return "User is inactive"
	default:
		return "Authentication failed"
	}
}

// subscribe consumes the mandatory first frame and registers the
// session. Reports whether the session reached the live state.
func (h *wsHandler) subscribe(sess *session, log zerolog.Logger) bool {
	_, raw, err := sess.conn.ReadMessage()
	if err != nil {
		log.Info().Err(err).Msg("Client disconnected during subscribe")
		return false
	}

	var frame model.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(sess, model.CodeSubscriptionError, "Failed to subscribe: "+err.Error())
		return false
	}
	if err := frame.ValidateSubscribe(); err != nil {
		h.sendError(sess, model.CodeSubscriptionError, "Failed to subscribe: "+err.Error())
		return false
	}
	if frame.Offset != "" {
		// Replay from an offset is not implemented; cursors belong to
		// the poll endpoint.
		log.Debug().Str("offset", frame.Offset).Msg("Subscribe offset ignored")
	}

	h.hub.Connect(sess, frame.Topics)

	h.sendJSON(sess, model.SubscribedFrame{
		Type:      model.FrameSubscribed,
		Topics:    frame.Topics,
		SessionID: sess.id,
		Timestamp: time.Now().UTC(),
	})
	log.Info().
		Strs("topics", frame.Topics).
		Str("client_id", frame.ClientID).
		Msg("Session subscribed")
	return true
}

// readLoop pumps client frames until the connection drops.
func (h *wsHandler) readLoop(sess *session, log zerolog.Logger) {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		h.handleFrame(sess, raw, log)
	}
}

func (h *wsHandler) handleFrame(sess *session, raw []byte, log zerolog.Logger) {
	var frame model.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(sess, model.CodeProcessingError, err.Error())
		return
	}

	switch frame.Type {
	case model.FramePing:
		h.sendJSON(sess, model.PongFrame{
			Type:      model.FramePong,
			Timestamp: time.Now().UTC(),
		})
	case model.FrameAck:
		log.Debug().Str("message_id", frame.MessageID).Msg("Message acknowledged")
	case model.FrameUnsubscribe:
		h.hub.Unsubscribe(sess, frame.Topics)
		h.sendJSON(sess, model.UnsubscribedFrame{
			Type:      model.FrameUnsubscribed,
			Topics:    frame.Topics,
			Timestamp: time.Now().UTC(),
		})
		log.Info().Strs("topics", frame.Topics).Msg("Session unsubscribed")
	default:
		h.sendError(sess, model.CodeUnknownMessageType,
			fmt.Sprintf("Unknown message type: %s", frame.Type))
	}
}

// writePump owns the connection's write side: queued frames, pings,
// and the final close frame.
func (h *wsHandler) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			// Flush whatever was queued before the close frame so a
			// final error or confirmation still reaches the client.
			for {
				select {
				case frame := <-s.send:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(s.closeCode, ""))
					return
				}
			}
		}
	}
}

func (h *wsHandler) sendJSON(sess *session, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal frame")
		return
	}
	// Best effort; a full queue is handled by hub eviction.
	sess.Deliver(frame)
}

func (h *wsHandler) sendError(sess *session, code, msg string) {
	h.sendJSON(sess, model.ErrorFrame{
		Type:    model.FrameError,
		Code:    code,
		Message: msg,
	})
}
