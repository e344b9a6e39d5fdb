package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"medsync/auth"
	"medsync/logging"
	"medsync/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State of the session connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 8 * 1024
)

var ErrNotConnected = errors.New("realtime: not connected")

// errSessionClosed aborts a dial whose handshake outlived an explicit
// Disconnect.
var errSessionClosed = errors.New("realtime: session closed during dial")

// sleepFn is swapped out in tests to avoid real backoff sleeps.
var sleepFn = time.Sleep

// Config tunes the connection manager. Zero fields get defaults.
type Config struct {
	URL               string // base http(s) URL of the server
	Token             string // bearer credential, required to connect
	BaseDelay         time.Duration
	MaxAttempts       int
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
}

func (c *Config) defaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// Manager owns the single transport per session: it establishes the
// WebSocket, monitors it, and recovers it. No other component may
// construct, replace, or destroy the transport. At most one live
// connection exists at any time; a stale handle is always torn down
// before a new dial.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	states *StateObservable

	// dispatch is installed by NewRegistry.
	dispatch func(models.Event)

	mu            sync.Mutex
	conn          *websocket.Conn
	state         State
	attempt       int
	intentional   bool
	reconnecting  bool
	cred          *auth.Credential
	stopHeartbeat chan struct{}

	writeMu sync.Mutex
}

func NewManager(cfg Config, states *StateObservable) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:    cfg,
		log:    logging.Component("realtime"),
		states: states,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a live transport exists.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// UserID returns the user id claim of the bound credential, if any.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return ""
	}
	return m.cred.UserID
}

// States exposes the connectivity observable fed by this manager.
func (m *Manager) States() *StateObservable {
	return m.states
}

// Connect establishes the transport. Without a valid credential no attempt
// is made. A failed initial dial starts the reconnect supervisor and the
// error is returned so the caller knows the session is degraded. Calling
// Connect while a connection or recovery is in flight is a no-op.
func (m *Manager) Connect() error {
	cred, err := auth.ParseCredential(m.cfg.Token)
	if err != nil {
		m.log.Warn().Err(err).Msg("connect refused")
		return err
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.intentional = false
	m.attempt = 0
	m.cred = cred
	m.mu.Unlock()

	if err := m.dial(); err != nil {
		if errors.Is(err, errSessionClosed) {
			return err
		}
		m.log.Warn().Err(err).Msg("initial dial failed, entering recovery")
		m.superviseLater()
		return err
	}
	return nil
}

// Disconnect tears the session down for good: transport closed, heartbeat
// stopped, attempt counter reset. There is no auto-recovery afterwards;
// only a fresh Connect (a new login) restarts the machine.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.attempt = 0
	m.teardownLocked()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.states.Publish(false)
	m.log.Info().Msg("session disconnected")
}

// Emit serializes an event envelope and writes it to the transport.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(models.OutboundEvent{Type: event, Payload: payload})
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) wsURL() string {
	u := strings.Replace(m.cfg.URL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/api/ws"
}

// dial performs one connection attempt. The stale-transport guard runs
// first: two live transports must never coexist.
func (m *Manager) dial() error {
	m.mu.Lock()
	m.teardownLocked()
	token := m.cred.Token
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := dialer.Dial(m.wsURL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	m.mu.Lock()
	if m.intentional {
		// Disconnect landed while the handshake was in flight. The
		// session is over: the fresh transport must not be installed.
		m.state = StateDisconnected
		m.mu.Unlock()
		conn.Close()
		return errSessionClosed
	}
	m.conn = conn
	m.state = StateConnected
	m.attempt = 0
	m.stopHeartbeat = stop
	m.mu.Unlock()

	m.log.Info().Str("url", m.wsURL()).Msg("connected")
	m.states.Publish(true)

	go m.readLoop(conn)
	go m.heartbeat(conn, stop)
	return nil
}

// teardownLocked closes and forgets the current transport, if any, and
// stops its heartbeat. Handlers are detached first so a dying socket
// cannot call back into the manager. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
	if m.conn != nil {
		m.conn.SetPongHandler(nil)
		m.conn.SetPingHandler(nil)
		m.conn.SetCloseHandler(nil)
		m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(conn, err)
			return
		}

		var ev models.Event
		if jsonErr := json.Unmarshal(data, &ev); jsonErr != nil || ev.Type == "" {
			// Malformed frames are dropped, never fatal.
			m.log.Debug().Err(jsonErr).Msg("dropping malformed frame")
			continue
		}

		if m.dispatch != nil {
			m.dispatch(ev)
		}
	}
}

func (m *Manager) handleReadError(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// A superseded transport died after replacement. Nothing to do.
		m.mu.Unlock()
		return
	}
	intentional := m.intentional
	m.teardownLocked()
	if intentional {
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		m.log.Warn().Err(err).Msg("transport dropped")
	} else {
		m.log.Info().Err(err).Msg("transport closed")
	}

	m.states.Publish(false)
	m.superviseLater()
}

// superviseLater starts the single authoritative reconnect loop unless one
// is already running. The transport's own failure detection and this loop
// are the only two parties involved; there is no second racing path.
func (m *Manager) superviseLater() {
	m.mu.Lock()
	if m.reconnecting || m.intentional {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()
	go m.supervise()
}

func (m *Manager) supervise() {
	for {
		m.mu.Lock()
		if m.intentional {
			m.state = StateDisconnected
			m.reconnecting = false
			m.mu.Unlock()
			return
		}
		if m.attempt >= m.cfg.MaxAttempts {
			m.state = StateDisconnected
			m.reconnecting = false
			m.mu.Unlock()
			m.states.Publish(false)
			m.log.Error().Int("attempts", m.cfg.MaxAttempts).Msg("reconnect attempts exhausted, giving up")
			return
		}
		m.attempt++
		a := m.attempt
		m.state = StateReconnecting
		m.mu.Unlock()

		sleepFn(m.backoff(a))

		m.mu.Lock()
		if m.intentional {
			m.state = StateDisconnected
			m.reconnecting = false
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()

		if err := m.dial(); err != nil {
			if errors.Is(err, errSessionClosed) {
				m.mu.Lock()
				m.reconnecting = false
				m.mu.Unlock()
				return
			}
			m.log.Warn().Int("attempt", a).Err(err).Msg("reconnect attempt failed")
			continue
		}

		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
		m.log.Info().Int("attempt", a).Msg("reconnected")
		return
	}
}

// backoff computes the delay before reconnect attempt a: linear in the
// attempt number, capped at five times the base.
func (m *Manager) backoff(a int) time.Duration {
	if a > 5 {
		a = 5
	}
	return m.cfg.BaseDelay * time.Duration(a)
}

// heartbeat keeps intermediary network paths warm while connected. A
// missed pong is deliberately not acted on here; the read deadline is the
// transport's own failure detection.
func (m *Manager) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				m.log.Debug().Err(err).Msg("heartbeat write failed")
				return
			}
		}
	}
}
