// Package wire is the JSON envelope exchanged over WebSocket channels by the
// server and every client role.
package wire

import (
	"encoding/json"
	"time"
)

const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeConnected = "connected"
)

// Close codes sent by the server.
const (
	CloseUnauthorized = 4401
	CloseEvicted      = 4408
	CloseShutdown     = 1001
)

// Message is an outbound frame. Kitchen start/complete frames carry ItemID at
// the top level; everything else puts its body in Data.
type Message struct {
	Type      string     `json:"type"`
	Data      any        `json:"data,omitempty"`
	ItemID    string     `json:"itemId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Envelope is the decoding side of Message; Data is kept raw so the
// receiver decides what to unmarshal it into.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ItemID    string          `json:"itemId,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

type Connected struct {
	SessionID string   `json:"sessionId"`
	Role      string   `json:"role"`
	SubjectID string   `json:"subjectId"`
	Topics    []string `json:"topics"`
}

func Ping() []byte {
	b, _ := json.Marshal(Message{Type: TypePing})
	return b
}

func Pong() []byte {
	b, _ := json.Marshal(Message{Type: TypePong})
	return b
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)
	return env, err
}
