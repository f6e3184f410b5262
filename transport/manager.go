// Package transport owns the single live socket to the chat server:
// connect/disconnect/reconnect lifecycle, typed event subscription, and
// promise-style emit-with-acknowledgement calls.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-client/config"
	"chat-client/models"
)

var (
	// ErrNotConnected is returned immediately when an emit or call is
	// attempted with no live connection. Nothing is queued; callers fall
	// back to the REST path or surface the failure.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrNoToken means Connect was refused because no access token is
	// available. No retry loop is started.
	ErrNoToken = errors.New("transport: no access token for handshake")

	// ErrAckTimeout means the server never acknowledged a call within the
	// configured window.
	ErrAckTimeout = errors.New("transport: acknowledgement timed out")

	// ErrConnClosed fails pending acks when the socket drops mid-call.
	ErrConnClosed = errors.New("transport: connection closed")
)

// TokenSource provides the bearer token for the socket handshake.
// *auth.Authority satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Handler receives the raw data payload of one push event. Handlers run on
// the read loop, so per-socket event order is preserved; they must not
// block.
type Handler func(data json.RawMessage)

// Manager owns at most one Conn and the subscriptions that survive it
// across reconnects.
type Manager struct {
	url               string
	tokens            TokenSource
	ackTimeout        time.Duration
	reconnectAttempts int
	backoff           time.Duration
	maxBackoff        time.Duration
	dialer            *websocket.Dialer
	log               *slog.Logger

	mu           sync.Mutex
	conn         *Conn
	gen          int // bumped on every connect/disconnect; stale read loops check it
	handlers     map[string][]Handler
	onDisconnect []func()
}

// NewManager builds a disconnected Manager from cfg. auth is consulted for
// the bearer token at every (re)connect.
func NewManager(cfg config.Config, tokens TokenSource, opts ...ManagerOption) *Manager {
	m := &Manager{
		url:               cfg.SocketURL,
		tokens:            tokens,
		ackTimeout:        cfg.AckTimeout,
		reconnectAttempts: cfg.ReconnectAttempts,
		backoff:           cfg.ReconnectBackoff,
		maxBackoff:        cfg.ReconnectMaxWait,
		dialer:            websocket.DefaultDialer,
		log:               slog.Default(),
		handlers:          make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = d }
}

// Connect dials the socket with the current access token. A missing token
// refuses the connection outright. Calling Connect while connected is a
// no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.conn != nil {
		return nil
	}
	token := m.tokens.AccessToken()
	if token == "" {
		return ErrNoToken
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c := newConn(ws)
	m.conn = c
	m.gen++
	go m.readLoop(c, m.gen)
	m.log.Debug("socket connected", "url", m.url)
	return nil
}

// Disconnect tears down the connection if one exists. Pending acks fail
// with ErrConnClosed and disconnect hooks fire. Bumping the generation
// also cancels a reconnect loop that is still backing off.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	c := m.conn
	if c == nil {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	hooks := append([]func(){}, m.onDisconnect...)
	m.mu.Unlock()

	c.failPending(ErrConnClosed)
	c.close()
	for _, fn := range hooks {
		fn()
	}
	m.log.Debug("socket disconnected")
}

// Reconnect is Disconnect followed by Connect. Used after a token refresh:
// the handshake carries the token, so re-authenticating means restarting
// the transport.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Disconnect()
	return m.Connect(ctx)
}

// Connected reports whether a live connection exists right now. Event
// delivery is only ever attempted while this holds; callers must not
// assume delivery after a drop.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Subscribe registers a handler for a push event. Subscriptions live on
// the Manager and keep working after a reconnect.
func (m *Manager) Subscribe(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

// OnDisconnect registers a hook invoked whenever the connection is lost or
// torn down, e.g. to invalidate cached presence.
func (m *Manager) OnDisconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// Call emits a frame and waits for its acknowledgement. With no live
// connection it fails immediately with a failure-shaped ack and
// ErrNotConnected. The wait is bounded by the configured ack timeout and
// by ctx.
func (m *Manager) Call(ctx context.Context, event string, payload any) (models.Ack, error) {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return models.Ack{Success: false}, ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return models.Ack{Success: false}, err
	}
	id := uuid.NewString()
	ch, err := c.addPending(id)
	if err != nil {
		return models.Ack{Success: false}, err
	}

	if err := c.writeFrame(models.Frame{ID: id, Event: event, Data: data}); err != nil {
		c.removePending(id)
		return models.Ack{Success: false}, err
	}

	timer := time.NewTimer(m.ackTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ch:
		if !ok {
			return models.Ack{Success: false}, ErrConnClosed
		}
		return ack, nil
	case <-timer.C:
		c.removePending(id)
		return models.Ack{Success: false}, ErrAckTimeout
	case <-ctx.Done():
		c.removePending(id)
		return models.Ack{Success: false}, ctx.Err()
	}
}

// Emit sends a frame without waiting for any acknowledgement, for
// ephemeral signals like typing.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.writeFrame(models.Frame{Event: event, Data: data})
}

// readLoop pumps frames off one connection until it dies, then hands over
// to the reconnect policy. gen detects whether this connection is still
// the current one.
func (m *Manager) readLoop(c *Conn, gen int) {
	for {
		frame, err := c.readFrame()
		if err != nil {
			m.handleDrop(c, gen, err)
			return
		}
		if frame.Event == models.EventAck && frame.ID != "" {
			c.deliverAck(frame)
			continue
		}
		for _, h := range m.handlersFor(frame.Event) {
			h(frame.Data)
		}
	}
}

func (m *Manager) handlersFor(event string) []Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Handler{}, m.handlers[event]...)
}

// handleDrop recovers from a transport-level failure with a bounded retry.
// Exhausting the attempts leaves the manager disconnected; callers detect
// that via Connected. The retry loop runs on behalf of one generation and
// abandons itself as soon as a deliberate Disconnect or Connect moves the
// generation on.
func (m *Manager) handleDrop(c *Conn, gen int, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.conn != c {
		// Deliberate Disconnect/Reconnect already handled this conn.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.gen++
	retryGen := m.gen
	hooks := append([]func(){}, m.onDisconnect...)
	m.mu.Unlock()

	c.failPending(ErrConnClosed)
	c.close()
	for _, fn := range hooks {
		fn()
	}
	m.log.Warn("socket dropped", "error", cause)

	wait := m.backoff
	for attempt := 1; attempt <= m.reconnectAttempts; attempt++ {
		time.Sleep(wait)
		if wait *= 2; wait > m.maxBackoff {
			wait = m.maxBackoff
		}
		connected, superseded, err := m.connectForRetry(retryGen)
		switch {
		case superseded:
			return
		case err != nil:
			m.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		case connected:
			m.log.Info("socket reconnected", "attempt", attempt)
			return
		}
	}
	m.log.Warn("reconnect attempts exhausted; staying disconnected")
}

// connectForRetry dials on behalf of the retry loop for generation gen.
// superseded means the loop no longer owns the manager: another caller
// connected or disconnected while it was backing off or dialing.
func (m *Manager) connectForRetry(gen int) (connected, superseded bool, err error) {
	m.mu.Lock()
	if m.gen != gen || m.conn != nil {
		m.mu.Unlock()
		return false, true, nil
	}
	m.mu.Unlock()

	token := m.tokens.AccessToken()
	if token == "" {
		return false, false, ErrNoToken
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := m.dialer.DialContext(context.Background(), m.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, false, err
	}

	m.mu.Lock()
	if m.gen != gen || m.conn != nil {
		// Disconnect or Connect won the race while the dial was in flight.
		m.mu.Unlock()
		ws.Close()
		return false, true, nil
	}
	c := newConn(ws)
	m.conn = c
	m.gen++
	go m.readLoop(c, m.gen)
	m.mu.Unlock()
	return true, false, nil
}
