// Package connection owns the chat socket: it dials, reports lifecycle
// changes and inbound frames as one ordered stream, and redials after
// transport failures according to a ReconnectPolicy.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 60 * time.Second
	dialTimeout  = 15 * time.Second
	sendBuffer   = 64
	maxFrameSize = 4 << 20
)

var (
	// ErrNotOpen is returned by Send when no socket is open. Nothing is queued.
	ErrNotOpen = errors.New("connection: socket is not open")
	// ErrSendBufferFull is returned when the write pump is backed up.
	ErrSendBufferFull = errors.New("connection: send buffer full")
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy replaces DefaultReconnectPolicy.
func WithPolicy(p ReconnectPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithToken authenticates the handshake with a bearer header and a token
// query parameter.
func WithToken(token string) Option {
	return func(m *Manager) { m.token = token }
}

// WithHeader adds handshake headers.
func WithHeader(h http.Header) Option {
	return func(m *Manager) {
		for k, vs := range h {
			for _, v := range vs {
				m.header.Add(k, v)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager holds at most one socket at a time. All methods are safe for
// concurrent use.
type Manager struct {
	rawURL string
	token  string
	header http.Header
	dialer Dialer
	policy ReconnectPolicy
	logger *zap.Logger

	events  chan Event
	stopped chan struct{}

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []Event
	state      State
	gen        uint64
	link       *link
	cancelDial context.CancelFunc
	retry      *time.Timer
	retrySeq   uint64
	attempts   int
	closed     bool
}

// New creates a Manager for the socket at rawURL. It does not connect until Open.
func New(rawURL string, opts ...Option) *Manager {
	m := &Manager{
		rawURL:  rawURL,
		header:  make(http.Header),
		dialer:  websocket.DefaultDialer,
		policy:  DefaultReconnectPolicy(),
		events:  make(chan Event),
		stopped: make(chan struct{}),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.With(zap.String("socket", redact(rawURL)))
	m.cond = sync.NewCond(&m.mu)
	go m.pump()
	return m
}

// Events is the ordered stream of lifecycle changes and inbound frames.
func (m *Manager) Events() <-chan Event { return m.events }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open connects, replacing any current socket and cancelling a pending retry.
func (m *Manager) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.cancelRetryLocked()
	m.attempts = 0
	m.connectLocked()
}

// Send writes one text frame. It fails with ErrNotOpen unless the socket is open.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen || m.link == nil {
		return ErrNotOpen
	}
	select {
	case m.link.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the socket down and stops reconnecting. Events emitted after
// Close are delivered on a best-effort basis.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.cancelRetryLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.gen++
	if m.link != nil {
		m.setStateLocked(StateClosing)
		m.link.close(websocket.CloseNormalClosure, "client closing")
		m.link = nil
	}
	m.setStateLocked(StateDisconnected)
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	close(m.stopped)
	m.logger.Info("socket manager closed")
}

func (m *Manager) connectLocked() {
	m.gen++
	gen := m.gen

	if m.link != nil {
		m.link.close(websocket.CloseNormalClosure, "reconnecting")
		m.link = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	m.cancelDial = cancel

	m.setStateLocked(StateConnecting)
	go m.dial(ctx, cancel, gen)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	ws, resp, err := m.dialer.DialContext(ctx, m.dialURL(), m.handshakeHeader())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed {
		if ws != nil {
			ws.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		if resp != nil {
			err = fmt.Errorf("connection: dial: %w (status %d)", err, resp.StatusCode)
		} else {
			err = fmt.Errorf("connection: dial: %w", err)
		}
		m.failLocked(err)
		return
	}

	l := newLink(ws)
	m.link = l
	m.attempts = 0
	m.setStateLocked(StateOpen)
	m.logger.Info("socket open")

	go m.readLoop(l, gen)
	go m.writeLoop(l)
}

// failLocked drops the current socket, reports the failure and schedules one retry.
func (m *Manager) failLocked(err error) {
	if m.link != nil {
		m.link.close(websocket.CloseGoingAway, "")
		m.link = nil
	}
	if err != nil {
		m.logger.Warn("socket failure", zap.Error(err))
		m.enqueueLocked(Event{Kind: EventError, Err: err})
	}
	m.setStateLocked(StateDisconnected)
	m.scheduleRetryLocked()
}

func (m *Manager) scheduleRetryLocked() {
	if m.closed || m.retry != nil {
		return
	}
	m.attempts++
	delay, ok := m.policy.delayFor(m.attempts)
	if !ok {
		m.logger.Warn("reconnect attempts exhausted", zap.Int("attempts", m.attempts-1))
		return
	}
	m.retrySeq++
	seq := m.retrySeq
	m.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", m.attempts))
	m.retry = time.AfterFunc(delay, func() { m.fireRetry(seq) })
}

func (m *Manager) fireRetry(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.retry == nil || seq != m.retrySeq {
		return
	}
	m.retry = nil
	m.connectLocked()
}

func (m *Manager) cancelRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.retrySeq++
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.enqueueLocked(Event{Kind: EventState, State: s})
}

func (m *Manager) enqueueLocked(ev Event) {
	if m.closed {
		return
	}
	m.queue = append(m.queue, ev)
	m.cond.Signal()
}

// pump forwards queued events so that emitting never blocks a caller holding mu.
func (m *Manager) pump() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		ev := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.events <- ev:
		case <-m.stopped:
			return
		}
	}
}

func (m *Manager) readLoop(l *link, gen uint64) {
	l.ws.SetReadLimit(maxFrameSize)
	_ = l.ws.SetReadDeadline(time.Now().Add(pongWait))
	l.ws.SetPongHandler(func(string) error {
		return l.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen == m.gen && !m.closed {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					m.logger.Info("socket closed by server")
					err = nil
				} else {
					err = fmt.Errorf("connection: read: %w", err)
				}
				m.failLocked(err)
			}
			m.mu.Unlock()
			return
		}
		_ = l.ws.SetReadDeadline(time.Now().Add(pongWait))

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.enqueueLocked(Event{Kind: EventFrame, Data: data})
		m.mu.Unlock()
	}
}

func (m *Manager) writeLoop(l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case msg := <-l.send:
			if err := l.write(websocket.TextMessage, msg); err != nil {
				// The read side observes the broken socket and reports it.
				l.ws.Close()
				return
			}
		case <-ticker.C:
			if err := l.write(websocket.PingMessage, nil); err != nil {
				l.ws.Close()
				return
			}
		}
	}
}

func (m *Manager) dialURL() string {
	if m.token == "" {
		return m.rawURL
	}
	u, err := url.Parse(m.rawURL)
	if err != nil {
		return m.rawURL
	}
	q := u.Query()
	q.Set("token", m.token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) handshakeHeader() http.Header {
	h := m.header.Clone()
	if m.token != "" {
		h.Set("Authorization", "Bearer "+m.token)
	}
	return h
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// link is one live socket with its outbound queue.
type link struct {
	ws   *websocket.Conn
	send chan []byte
	stop chan struct{}
	once sync.Once
}

func newLink(ws *websocket.Conn) *link {
	return &link{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		stop: make(chan struct{}),
	}
}

func (l *link) write(messageType int, payload []byte) error {
	if err := l.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.ws.WriteMessage(messageType, payload)
}

func (l *link) close(code int, reason string) {
	l.once.Do(func() {
		close(l.stop)
		_ = l.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = l.ws.Close()
	})
}
