// Package realtime owns the single websocket connection of a reader session
// and exposes it to the rest of the client as a subscribe/emit Socket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrNoSession    = errors.New("realtime: no session")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives inbound events. Handlers run on the connection's read
// goroutine, one event at a time.
type Handler func(env *protocol.Envelope)

// Socket is the view of the connection that other components depend on.
type Socket interface {
	Emit(event string, payload any) error
	Subscribe(event string, h Handler) (unsubscribe func())
}

type Option func(*Manager)

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithBackoff bounds the delay between reconnect attempts.
func WithBackoff(min, max time.Duration) Option {
	return func(m *Manager) {
		m.minBackoff = min
		m.maxBackoff = max
	}
}

type Manager struct {
	url        string
	dialer     *websocket.Dialer
	log        *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.Mutex
	session *types.Session
	conn    *conn
	state   State
	cancel  context.CancelFunc
	done    chan struct{}

	handlersLock sync.RWMutex
	handlers     map[string]map[uint64]Handler
	observers    map[uint64]func(State)
	nextId       uint64
}

func NewManager(url string, l *log.Logger, opts ...Option) *Manager {
	m := &Manager{
		url:        url,
		dialer:     websocket.DefaultDialer,
		log:        l,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		handlers:   make(map[string]map[uint64]Handler),
		observers:  make(map[uint64]func(State)),
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the connection for s. Calling it again for the same user is a
// no-op; calling it for a different user replaces the connection. If the
// first dial fails the error is returned and nothing keeps running.
func (m *Manager) Connect(ctx context.Context, s types.Session) error {
	if s.UserId == "" || s.Token == "" {
		return ErrNoSession
	}

	m.mu.Lock()
	if m.session != nil && m.session.UserId == s.UserId {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.hasSession() {
		m.Disconnect()
	}

	m.setState(Connecting)
	ws, err := m.dial(ctx, s)
	if err != nil {
		m.setState(Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	if m.session != nil {
		// lost a race with a concurrent Connect
		m.mu.Unlock()
		cancel()
		ws.Close()
		return nil
	}
	m.session = &s
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, s, ws, done)
	return nil
}

// Disconnect tears the connection down and stops reconnecting. It is safe to
// call when nothing is connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	m.cancel()
	c := m.conn
	done := m.done
	m.session = nil
	m.mu.Unlock()

	if c != nil {
		c.close()
	}
	<-done

	m.setState(Disconnected)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the identity the connection is bound to.
func (m *Manager) Session() (types.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return types.Session{}, false
	}
	return *m.session, true
}

func (m *Manager) hasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// OnStateChange registers fn for every state transition.
func (m *Manager) OnStateChange(fn func(State)) (cancel func()) {
	m.handlersLock.Lock()
	defer m.handlersLock.Unlock()

	m.nextId++
	id := m.nextId
	m.observers[id] = fn

	return func() {
		m.handlersLock.Lock()
		defer m.handlersLock.Unlock()
		delete(m.observers, id)
	}
}

func (m *Manager) Subscribe(event string, h Handler) (unsubscribe func()) {
	m.handlersLock.Lock()
	defer m.handlersLock.Unlock()

	m.nextId++
	id := m.nextId
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[uint64]Handler)
	}
	m.handlers[event][id] = h

	return func() {
		m.handlersLock.Lock()
		defer m.handlersLock.Unlock()
		if hs, ok := m.handlers[event]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(m.handlers, event)
			}
		}
	}
}

// Emit queues an event for the server. It fails fast with ErrNotConnected
// while the connection is down.
func (m *Manager) Emit(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()

	if c == nil || !c.queue(raw) {
		return ErrNotConnected
	}
	return nil
}

func (m *Manager) dispatch(env *protocol.Envelope) {
	m.handlersLock.RLock()
	hs := make([]Handler, 0, len(m.handlers[env.Event]))
	for _, h := range m.handlers[env.Event] {
		hs = append(hs, h)
	}
	m.handlersLock.RUnlock()

	for _, h := range hs {
		h(env)
	}
}

func (m *Manager) dial(ctx context.Context, s types.Session) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.Token)

	ws, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", m.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	return ws, nil
}

func (m *Manager) run(ctx context.Context, s types.Session, ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	backoff := m.minBackoff
	for {
		c := newConn(ws, m.log)
		if !m.setConn(ctx, c) {
			ws.Close()
			return
		}

		go c.write()
		err := c.read(m.dispatch)
		c.close()
		m.clearConn(c)

		if ctx.Err() != nil {
			return
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			m.log.Printf("realtime: connection lost: %v", err)
		}

		for {
			m.setState(Connecting)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			ws, err = m.dial(ctx, s)
			if err == nil {
				backoff = m.minBackoff
				break
			}
			if ctx.Err() != nil {
				return
			}

			m.log.Printf("realtime: reconnect: %v", err)
			m.setState(Disconnected)
			backoff = min(backoff*2, m.maxBackoff)
		}
	}
}

func (m *Manager) setConn(ctx context.Context, c *conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = c
	m.mu.Unlock()

	m.setState(Connected)
	return true
}

func (m *Manager) clearConn(c *conn) {
	m.mu.Lock()
	if m.conn == c {
		m.conn = nil
	}
	m.mu.Unlock()

	m.setState(Disconnected)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.handlersLock.RLock()
	obs := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		obs = append(obs, fn)
	}
	m.handlersLock.RUnlock()

	for _, fn := range obs {
		fn(s)
	}
}
