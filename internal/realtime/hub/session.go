package hub

import (
	"strings"
	"sync"
	"time"

	"restoran-fulfillment/internal/models"

	"github.com/google/uuid"
)

const DefaultQueueSize = 64

// Session is one connected client. It lives only in process memory and is
// dropped on close, eviction or shutdown.
type Session struct {
	ID               string
	Role             models.UserRole
	SubjectID        string
	Station          string
	ReconnectAttempt int
	ConnectedAt      time.Time

	topics []string
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	lastPing time.Time
	lastPong time.Time
	reason   string
}

type SessionOptions struct {
	Role             models.UserRole
	SubjectID        string
	Station          string
	ReconnectAttempt int
	QueueSize        int
	Now              time.Time
}

func NewSession(opts SessionOptions) *Session {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Session{
		ID:               uuid.NewString(),
		Role:             opts.Role,
		SubjectID:        opts.SubjectID,
		Station:          opts.Station,
		ReconnectAttempt: opts.ReconnectAttempt,
		ConnectedAt:      opts.Now,
		topics:           TopicsFor(opts.Role, opts.SubjectID, opts.Station),
		send:             make(chan []byte, size),
		done:             make(chan struct{}),
		lastPong:         opts.Now,
	}
}

// TopicsFor derives the subscription patterns of a role.
//
//	kitchen  -> kitchen.* or kitchen.<station>
//	waiter   -> waiter.<id>, table.*
//	customer -> order.<id>
//	admin    -> *
func TopicsFor(role models.UserRole, subjectID, station string) []string {
	switch role {
	case models.RoleKitchen:
		if station != "" {
			return []string{"kitchen." + station}
		}
		return []string{"kitchen.*"}
	case models.RoleWaiter:
		return []string{"waiter." + subjectID, "table.*"}
	case models.RoleCustomer:
		return []string{"order." + subjectID}
	case models.RoleAdmin:
		return []string{"*"}
	}
	return nil
}

// Match reports whether topic falls under pattern. "*" matches everything,
// "x.*" matches any topic starting with "x.", other patterns match exactly.
func Match(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}

func (s *Session) Topics() []string { return append([]string(nil), s.topics...) }

func (s *Session) Subscribed(topic string) bool {
	for _, p := range s.topics {
		if Match(p, topic) {
			return true
		}
	}
	return false
}

// Outbox is drained by the connection writer.
func (s *Session) Outbox() <-chan []byte { return s.send }

func (s *Session) Done() <-chan struct{} { return s.done }

// Close is idempotent; the first reason wins.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Enqueue never blocks. False means the session is closed or its queue is
// full; the hub evicts it in the latter case.
func (s *Session) Enqueue(b []byte) bool {
	if s.Closed() {
		return false
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

func (s *Session) MarkPing(t time.Time) {
	s.mu.Lock()
	s.lastPing = t
	s.mu.Unlock()
}

func (s *Session) MarkPong(t time.Time) {
	s.mu.Lock()
	s.lastPong = t
	s.mu.Unlock()
}

// PongOverdue is true when a ping went unanswered for at least grace.
func (s *Session) PongOverdue(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPing.IsZero() || s.lastPong.After(s.lastPing) || s.lastPong.Equal(s.lastPing) {
		return false
	}
	return now.Sub(s.lastPing) >= grace
}

type SessionInfo struct {
	ID               string          `json:"id"`
	Role             models.UserRole `json:"role"`
	SubjectID        string          `json:"subject_id"`
	Station          string          `json:"station,omitempty"`
	Topics           []string        `json:"topics"`
	ReconnectAttempt int             `json:"reconnect_attempt"`
	ConnectedAt      time.Time       `json:"connected_at"`
	LastPingAt       *time.Time      `json:"last_ping_at"`
	LastPongAt       time.Time       `json:"last_pong_at"`
	Queued           int             `json:"queued"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:               s.ID,
		Role:             s.Role,
		SubjectID:        s.SubjectID,
		Station:          s.Station,
		Topics:           s.Topics(),
		ReconnectAttempt: s.ReconnectAttempt,
		ConnectedAt:      s.ConnectedAt,
		LastPongAt:       s.lastPong,
		Queued:           len(s.send),
	}
	if !s.lastPing.IsZero() {
		p := s.lastPing
		info.LastPingAt = &p
	}
	return info
}
