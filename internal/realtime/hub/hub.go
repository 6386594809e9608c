// Package hub is the FanoutHub: a process-scoped registry of connected
// sessions that routes published frames to every session subscribed to the
// topic. Delivery is fire-and-forget; a session whose queue is full is
// evicted instead of slowing the publisher down.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"restoran-fulfillment/internal/realtime/wire"
)

var ErrClosed = errors.New("hub is closed")

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "hub"),
	}
}

func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.sessions[s.ID] = s
	h.logger.Info("session_registered",
		"session_id", s.ID, "role", s.Role, "subject_id", s.SubjectID,
		"topics", s.topics, "reconnect_attempt", s.ReconnectAttempt)
	return nil
}

// Unregister removes and closes the session. Unknown ids are ignored.
func (h *Hub) Unregister(id, reason string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	if ok {
		s.Close(reason)
		h.logger.Info("session_unregistered", "session_id", id, "reason", reason)
	}
}

// Publish delivers payload to every session subscribed to topic and returns
// how many sessions accepted it.
func (h *Hub) Publish(topic string, payload []byte) int {
	return h.PublishMulti([]string{topic}, payload)
}

// PublishMulti delivers payload at most once to each session subscribed to
// any of topics. Frames for the same topic reach a session in publish order
// since each session has a single FIFO queue.
func (h *Hub) PublishMulti(topics []string, payload []byte) int {
	if len(topics) == 0 {
		return 0
	}

	var stuck []*Session
	delivered := 0

	h.mu.RLock()
	for _, s := range h.sessions {
		if !subscribedAny(s, topics) {
			continue
		}
		if s.Enqueue(payload) {
			delivered++
		} else if !s.Closed() {
			stuck = append(stuck, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stuck {
		h.logger.Warn("session_evicted", "session_id", s.ID, "reason", "send queue full")
		h.Unregister(s.ID, "send queue full")
	}
	return delivered
}

// PublishMessage marshals msg once and publishes it.
func (h *Hub) PublishMessage(topics []string, msg wire.Message) (int, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	return h.PublishMulti(topics, b), nil
}

func subscribedAny(s *Session, topics []string) bool {
	for _, t := range topics {
		if s.Subscribed(t) {
			return true
		}
	}
	return false
}

func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Snapshot() []SessionInfo {
	h.mu.RLock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.RUnlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

// Close unregisters every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close("server shutdown")
	}
	h.logger.Info("hub_closed", "sessions", len(sessions))
}
