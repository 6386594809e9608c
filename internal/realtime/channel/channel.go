// Package channel runs the server side of one WebSocket connection:
// handshake, heartbeat and the single writer that drains the session queue.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"restoran-fulfillment/internal/auth"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/realtime/hub"
	"restoran-fulfillment/internal/realtime/wire"

	"github.com/fasthttp/websocket"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPongGrace         = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
)

// Close reasons recorded on the session.
const (
	ReasonClientClosed     = "client closed"
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonWriteFailed      = "write failed"
	ReasonShutdown         = "server shutdown"
)

// Conn is the subset of a websocket connection the handler needs. Both
// *websocket.Conn from fasthttp/websocket and the fiber contrib wrapper
// satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Config struct {
	HeartbeatInterval time.Duration
	PongGrace         time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PongGrace <= 0 {
		c.PongGrace = DefaultPongGrace
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = hub.DefaultQueueSize
	}
	return c
}

// Params are the handshake values carried on the connection URL.
type Params struct {
	Token   string
	Station string
	Attempt int
}

// ParamsFrom reads token, station and attempt through a query lookup such
// as (*websocket.Conn).Query from gofiber/contrib.
func ParamsFrom(query func(key string, defaultValue ...string) string) Params {
	attempt, err := strconv.Atoi(query("attempt", "0"))
	if err != nil || attempt < 0 {
		attempt = 0
	}
	return Params{
		Token:   query("token"),
		Station: query("station"),
		Attempt: attempt,
	}
}

type Handler struct {
	cfg       Config
	hub       *hub.Hub
	validator auth.Validator
	clock     clock.Clock
	logger    *slog.Logger
}

func NewHandler(cfg Config, h *hub.Hub, v auth.Validator, clk clock.Clock, logger *slog.Logger) *Handler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg.withDefaults(),
		hub:       h,
		validator: v,
		clock:     clk,
		logger:    logger.With("component", "channel"),
	}
}

// Serve blocks until the connection ends. It returns auth.ErrInvalidToken
// when the handshake is rejected, hub.ErrClosed during shutdown and nil for
// any session that was registered.
func (h *Handler) Serve(ctx context.Context, conn Conn, p Params) error {
	defer conn.Close()

	id, err := h.validator.Validate(p.Token)
	if err != nil {
		h.logger.Warn("handshake_rejected", "error", err, "attempt", p.Attempt)
		h.writeClose(conn, wire.CloseUnauthorized, "unauthorized")
		return err
	}

	station := ""
	if id.Role == models.RoleKitchen {
		station = id.Station
		if p.Station != "" {
			station = p.Station
		}
	}

	s := hub.NewSession(hub.SessionOptions{
		Role:             id.Role,
		SubjectID:        id.SubjectID,
		Station:          station,
		ReconnectAttempt: p.Attempt,
		QueueSize:        h.cfg.QueueSize,
		Now:              h.clock.Now(),
	})

	// queued before Register so it is always the first frame
	if _, err := h.enqueue(s, wire.Message{Type: wire.TypeConnected, Data: wire.Connected{
		SessionID: s.ID,
		Role:      string(s.Role),
		SubjectID: s.SubjectID,
		Topics:    s.Topics(),
	}}); err != nil {
		return err
	}

	if err := h.hub.Register(s); err != nil {
		h.writeClose(conn, wire.CloseShutdown, ReasonShutdown)
		return err
	}

	heartbeat := h.clock.NewTicker(h.cfg.HeartbeatInterval)
	grace := h.clock.NewTicker(h.cfg.PongGrace)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer heartbeat.Stop()
		defer grace.Stop()
		h.writeLoop(ctx, conn, s, heartbeat, grace)
	}()

	h.readLoop(conn, s)
	h.hub.Unregister(s.ID, ReasonClientClosed)
	<-writerDone

	h.logger.Info("session_closed", "session_id", s.ID, "reason", s.CloseReason())
	return nil
}

func (h *Handler) enqueue(s *hub.Session, msg wire.Message) (bool, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	return s.Enqueue(b), nil
}

// writeLoop is the only goroutine that writes to conn once the session is
// registered.
func (h *Handler) writeLoop(ctx context.Context, conn Conn, s *hub.Session, heartbeat, grace clock.Ticker) {
	stop := ctx.Done()
	for {
		select {
		case b := <-s.Outbox():
			if err := h.write(conn, websocket.TextMessage, b); err != nil {
				h.logger.Warn("write_failed", "session_id", s.ID, "error", err)
				h.hub.Unregister(s.ID, ReasonWriteFailed)
			}

		case <-heartbeat.C():
			s.MarkPing(h.clock.Now())
			if err := h.write(conn, websocket.TextMessage, wire.Ping()); err != nil {
				h.logger.Warn("ping_failed", "session_id", s.ID, "error", err)
				h.hub.Unregister(s.ID, ReasonWriteFailed)
			}

		case <-grace.C():
			if s.PongOverdue(h.clock.Now(), h.cfg.PongGrace) {
				h.logger.Warn("session_evicted", "session_id", s.ID, "reason", ReasonHeartbeatTimeout)
				h.hub.Unregister(s.ID, ReasonHeartbeatTimeout)
			}

		case <-stop:
			stop = nil
			h.hub.Unregister(s.ID, ReasonShutdown)

		case <-s.Done():
			reason := s.CloseReason()
			h.writeClose(conn, closeCode(reason), reason)
			// unblocks the read loop
			conn.Close()
			return
		}
	}
}

func (h *Handler) readLoop(conn Conn, s *hub.Session) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := wire.Decode(b)
		if err != nil {
			h.logger.Debug("bad_frame", "session_id", s.ID, "error", err)
			continue
		}

		switch env.Type {
		case wire.TypePong:
			s.MarkPong(h.clock.Now())
		case wire.TypePing:
			// clients may probe us too
			s.Enqueue(wire.Pong())
		default:
			h.logger.Debug("frame_ignored", "session_id", s.ID, "type", env.Type)
		}
	}
}

func (h *Handler) write(conn Conn, messageType int, b []byte) error {
	if err := conn.SetWriteDeadline(h.clock.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, b)
}

func (h *Handler) writeClose(conn Conn, code int, reason string) {
	err := h.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		h.logger.Debug("close_frame_failed", "code", code, "error", err)
	}
}

func closeCode(reason string) int {
	switch reason {
	case ReasonShutdown:
		return wire.CloseShutdown
	case ReasonClientClosed:
		return websocket.CloseNormalClosure
	default:
		return wire.CloseEvicted
	}
}
