// Package client is the reconnecting WebSocket channel every role's client
// uses. It answers server pings, hands domain frames to subscribers and
// reconnects with capped exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/realtime/wire"

	"github.com/fasthttp/websocket"
)

const (
	BaseDelay           = 1000 * time.Millisecond
	MaxDelay            = 30000 * time.Millisecond
	MaxAttempts         = 5
	DefaultPollInterval = 30 * time.Second
)

// Backoff returns min(1000 * 2^attempt, 30000) milliseconds.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^5 already exceeds the cap
	if attempt >= 5 {
		return MaxDelay
	}
	d := BaseDelay << attempt
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WSDialer dials with fasthttp/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	URL          string // e.g. ws://localhost:8080/ws
	Token        string
	Station      string
	MaxAttempts  int
	PollInterval time.Duration
	Dialer       Dialer
	Clock        clock.Clock
	Logger       *slog.Logger
}

type Client struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	conn      Conn
	state     State
	attempt   int
	closed    bool
	cancel    context.CancelFunc
	onEvent   []func(wire.Envelope)
	onState   []func(State)
	onPoll    []func(context.Context)
	onConnect []func(wire.Connected)

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = MaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		logger: opts.Logger.With("component", "ws_client"),
		state:  StateClosed,
	}
}

// OnEvent registers a handler for every domain frame (anything but
// ping/pong/connected).
func (c *Client) OnEvent(fn func(wire.Envelope)) {
	c.mu.Lock()
	c.onEvent = append(c.onEvent, fn)
	c.mu.Unlock()
}

func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

// OnConnect fires after every successful handshake, reconnects included.
func (c *Client) OnConnect(fn func(wire.Connected)) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

// OnPoll registers the periodic re-fetch that corrects missed frames. It runs
// every PollInterval for as long as Run does, connected or not.
func (c *Client) OnPoll(fn func(context.Context)) {
	c.mu.Lock()
	c.onPoll = append(c.onPoll, fn)
	c.mu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Run connects and keeps reconnecting until ctx ends, Close is called or the
// attempt budget is spent. The last case returns an apperr.ErrDisconnected.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	poll := c.opts.Clock.NewTicker(c.opts.PollInterval)
	go c.pollLoop(ctx, poll)

	c.setState(StateConnecting)
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil || c.isClosed() {
			c.setState(StateClosed)
			return nil
		}

		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == wire.CloseUnauthorized {
			c.setState(StateFailed)
			return apperr.Disconnected(err, "credential rejected")
		}

		c.mu.Lock()
		attempt := c.attempt
		if attempt >= c.opts.MaxAttempts {
			c.mu.Unlock()
			c.setState(StateFailed)
			c.logger.Error("reconnect_gave_up", "attempts", attempt, "error", err)
			return apperr.Disconnected(err, "gave up after %d attempts", attempt)
		}
		c.attempt++
		c.mu.Unlock()

		delay := Backoff(attempt)
		c.setState(StateReconnecting)
		c.logger.Warn("reconnecting", "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", err)

		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return nil
		case <-c.opts.Clock.After(delay):
		}
	}
}

// connectOnce dials, reads until the connection drops and returns why.
func (c *Client) connectOnce(ctx context.Context) error {
	u, err := c.dialURL()
	if err != nil {
		return err
	}

	conn, err := c.opts.Dialer.Dial(ctx, u)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	return c.readLoop(conn)
}

func (c *Client) readLoop(conn Conn) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := wire.Decode(b)
		if err != nil {
			c.logger.Debug("bad_frame", "error", err)
			continue
		}

		switch env.Type {
		case wire.TypePing:
			if err := c.write(conn, websocket.TextMessage, wire.Pong()); err != nil {
				return err
			}
		case wire.TypePong:
		case wire.TypeConnected:
			var info wire.Connected
			if err := json.Unmarshal(env.Data, &info); err != nil {
				return err
			}
			// the open is only successful once the server accepted us
			c.mu.Lock()
			c.attempt = 0
			handlers := append([]func(wire.Connected){}, c.onConnect...)
			c.mu.Unlock()
			c.setState(StateConnected)
			for _, fn := range handlers {
				fn(info)
			}
		default:
			c.mu.Lock()
			handlers := append([]func(wire.Envelope){}, c.onEvent...)
			c.mu.Unlock()
			for _, fn := range handlers {
				fn(env)
			}
		}
	}
}

func (c *Client) pollLoop(ctx context.Context, t clock.Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			c.mu.Lock()
			handlers := append([]func(context.Context){}, c.onPoll...)
			c.mu.Unlock()
			for _, fn := range handlers {
				fn(ctx)
			}
		}
	}
}

// Send writes a frame on the live connection.
func (c *Client) Send(msg wire.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperr.Disconnected(nil, "not connected")
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(conn, websocket.TextMessage, b)
}

func (c *Client) write(conn Conn, kind int, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(kind, b)
}

// Close stops Run. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		c.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	handlers := append([]func(State){}, c.onState...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", c.opts.Token)
	if c.opts.Station != "" {
		q.Set("station", c.opts.Station)
	}
	q.Set("attempt", strconv.Itoa(c.Attempt()))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
