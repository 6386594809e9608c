package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/realtime/wire"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeConn struct {
	in      chan []byte
	readErr error
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn(frames ...[]byte) *fakeConn {
	c := &fakeConn{in: make(chan []byte, len(frames)+8), closed: make(chan struct{}), readErr: io.EOF}
	for _, f := range frames {
		c.in <- f
	}
	return c
}

// hangUp makes ReadMessage fail once the queued frames are consumed.
func (c *fakeConn) hangUp(err error) *fakeConn {
	if err != nil {
		c.readErr = err
	}
	close(c.in)
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return 0, nil, c.readErr
		}
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) wrote(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.written {
		if env, err := wire.Decode(b); err == nil && env.Type == typ {
			return true
		}
	}
	return false
}

// scriptDialer hands out the scripted results in order, then fails forever.
type scriptDialer struct {
	mu     sync.Mutex
	script []any // Conn or error
	urls   []string
}

func (d *scriptDialer) Dial(_ context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.script[0]
	d.script = d.script[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(Conn), nil
}

func (d *scriptDialer) attempts(t *testing.T) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, raw := range d.urls {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		out = append(out, u.Query().Get("attempt"))
	}
	return out
}

func connectedFrame() []byte {
	return mustJSON(wire.Message{Type: wire.TypeConnected, Data: wire.Connected{SessionID: "s1", Role: "waiter", SubjectID: "w1"}})
}

func mustJSON(m wire.Message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}

func newTestClient(d Dialer, clk clock.Clock) *Client {
	return New(Options{
		URL:    "ws://localhost:8080/ws",
		Token:  "tok",
		Dialer: d,
		Clock:  clk,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func seconds(ss ...int) []time.Duration {
	out := make([]time.Duration, len(ss))
	for i, s := range ss {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

func TestBackoffSequence(t *testing.T) {
	var got []int64
	for attempt := 0; attempt <= 5; attempt++ {
		got = append(got, Backoff(attempt).Milliseconds())
	}
	assert.Equal(t, []int64{1000, 2000, 4000, 8000, 16000, 30000}, got)
	assert.Equal(t, MaxDelay, Backoff(12))
	assert.Equal(t, BaseDelay, Backoff(-1))
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	clk := clock.NewFake(t0)
	d := &scriptDialer{}
	c := newTestClient(d, clk)

	var states []State
	c.OnStateChange(func(s State) { states = append(states, s) })

	err := c.Run(context.Background())

	assert.ErrorIs(t, err, apperr.ErrDisconnected)
	assert.Equal(t, seconds(1, 2, 4, 8, 16), clk.Waits())
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, d.attempts(t))
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, []State{StateConnecting, StateReconnecting, StateFailed}, states)
}

func TestSuccessfulOpenResetsAttempt(t *testing.T) {
	clk := clock.NewFake(t0)
	d := &scriptDialer{script: []any{
		errors.New("refused"),
		errors.New("refused"),
		newFakeConn(connectedFrame()).hangUp(nil),
	}}
	c := newTestClient(d, clk)

	err := c.Run(context.Background())

	assert.ErrorIs(t, err, apperr.ErrDisconnected)
	assert.Equal(t, seconds(1, 2, 1, 2, 4, 8, 16), clk.Waits())
	assert.Equal(t, []string{"0", "1", "2", "1", "2", "3", "4", "5"}, d.attempts(t))
}

func TestOpenWithoutHandshakeDoesNotReset(t *testing.T) {
	clk := clock.NewFake(t0)
	d := &scriptDialer{script: []any{
		errors.New("refused"),
		newFakeConn().hangUp(nil),
	}}
	c := newTestClient(d, clk)

	require.Error(t, c.Run(context.Background()))
	assert.Equal(t, seconds(1, 2, 4, 8, 16), clk.Waits())
}

func TestUnauthorizedCloseStopsImmediately(t *testing.T) {
	clk := clock.NewFake(t0)
	d := &scriptDialer{script: []any{
		newFakeConn().hangUp(&websocket.CloseError{Code: wire.CloseUnauthorized, Text: "unauthorized"}),
	}}
	c := newTestClient(d, clk)

	err := c.Run(context.Background())

	assert.ErrorIs(t, err, apperr.ErrDisconnected)
	assert.Empty(t, clk.Waits())
	assert.Equal(t, StateFailed, c.State())
}

func TestPingAnsweredAndEventsDelivered(t *testing.T) {
	clk := clock.NewFake(t0)
	conn := newFakeConn(
		connectedFrame(),
		wire.Ping(),
		mustJSON(wire.Message{Type: "kitchen:item_started", ItemID: "e1"}),
	)
	d := &scriptDialer{script: []any{conn}}
	c := newTestClient(d, clk)

	events := make(chan wire.Envelope, 4)
	c.OnEvent(func(env wire.Envelope) { events <- env })
	var connected wire.Connected
	c.OnConnect(func(info wire.Connected) { connected = info })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case env := <-events:
		assert.Equal(t, "kitchen:item_started", env.Type)
		assert.Equal(t, "e1", env.ItemID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.True(t, conn.wrote(wire.TypePong))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "s1", connected.SessionID)
	require.NoError(t, c.Send(wire.Message{Type: "hello"}))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, clk.Waits())
}

func TestPollRunsWhileConnected(t *testing.T) {
	clk := clock.NewFake(t0)
	conn := newFakeConn(connectedFrame())
	c := newTestClient(&scriptDialer{script: []any{conn}}, clk)

	polls := make(chan struct{}, 4)
	c.OnPoll(func(context.Context) { polls <- struct{}{} })

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)

	clk.Advance(DefaultPollInterval)
	select {
	case <-polls:
	case <-time.After(2 * time.Second):
		t.Fatal("poll not triggered")
	}

	c.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := newTestClient(&scriptDialer{}, clock.NewFake(t0))
	assert.ErrorIs(t, c.Send(wire.Message{Type: "x"}), apperr.ErrDisconnected)
}
