package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/credential"
	"github.com/matheus3301/wppsync/internal/status"
)

// Options tunes the connect and reconnect behavior.
type Options struct {
	ConnectTimeout time.Duration
	// WriteTimeout bounds one Emit. Cancelling the caller's ctx does not
	// abort a write in progress.
	WriteTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int
}

// DefaultOptions returns the gateway's documented timings.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		BackoffBase:    2 * time.Second,
		BackoffMax:     30 * time.Second,
		MaxAttempts:    10,
	}
}

// Handler receives the data of one inbound event.
type Handler func(data json.RawMessage)

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfter(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Manager owns the single live connection of the console. It authenticates
// with the stored credential, dispatches inbound events to registered
// handlers and reconnects with exponential backoff after unexpected drops.
//
// Every connection is tagged with a generation. Disconnect and Connect bump
// it, so callbacks from an older connection or a stale retry timer are
// ignored.
type Manager struct {
	dialer  Dialer
	creds   *credential.Store
	machine *status.Machine
	logger  *zap.Logger
	opts    Options
	after   afterFunc
	now     func() time.Time

	mu         sync.Mutex
	endpoint   string
	conn       Conn
	stopReader context.CancelFunc
	handlers   map[string]Handler
	attempts   int
	retry      timer
	dialing    bool
	gen        uint64
}

// NewManager creates a manager. Nothing is dialed until Connect.
func NewManager(d Dialer, creds *credential.Store, m *status.Machine, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		dialer:   d,
		creds:    creds,
		machine:  m,
		logger:   logger,
		opts:     opts,
		after:    realAfter,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

// State returns the channel lifecycle state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Connected reports whether events can be emitted right now.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.machine.Current() == status.Connected
}

// Connect opens the channel to endpoint. It is a no-op while a connection to
// the same endpoint is open or being opened. Any other existing connection
// is torn down first and the retry counter restarts.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	if endpoint == m.endpoint && (m.dialing || (m.conn != nil && m.machine.Current() == status.Connected)) {
		m.mu.Unlock()
		return nil
	}

	m.gen++
	gen := m.gen
	m.teardownLocked()
	m.endpoint = endpoint
	m.attempts = 0

	cred := m.creds.Get()
	if !cred.Valid(m.now()) {
		_ = m.machine.Ensure(status.Error, "missing credential")
		m.mu.Unlock()
		return ErrMissingCredential
	}
	m.dialing = true
	_ = m.machine.Ensure(status.Connecting, "connect")
	m.mu.Unlock()

	return m.attempt(ctx, gen, endpoint, cred.Token)
}

// Disconnect closes the channel and cancels any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.dialing = false
	m.attempts = 0
	m.teardownLocked()
	_ = m.machine.Ensure(status.Disconnected, "closed by client")
}

// UpdateCredential stores a new token and, if the channel was pointed at an
// endpoint, reconnects with it.
func (m *Manager) UpdateCredential(ctx context.Context, token string) error {
	m.creds.Set(token)
	m.mu.Lock()
	endpoint := m.endpoint
	m.mu.Unlock()

	m.Disconnect()
	if endpoint == "" {
		return nil
	}
	return m.Connect(ctx, endpoint)
}

// Emit sends one event. It fails fast with ErrNotConnected rather than
// queueing.
func (m *Manager) Emit(ctx context.Context, event string, data any) error {
	m.mu.Lock()
	conn := m.conn
	connected := conn != nil && m.machine.Current() == status.Connected
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	p, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	timeout := m.opts.WriteTimeout
	if timeout <= 0 {
		timeout = m.opts.ConnectTimeout
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, p); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// On registers the handler for event, replacing any previous one.
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = h
}

// attempt dials and authenticates once, then records the outcome.
func (m *Manager) attempt(ctx context.Context, gen uint64, endpoint, token string) error {
	dctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(dctx, endpoint, token)
	if err == nil {
		if err = handshake(dctx, conn, token); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "handshake failed")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		if err == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return ErrSuperseded
	}
	m.dialing = false

	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			m.logger.Warn("live channel authentication rejected", zap.String("reason", authErr.Reason))
			_ = m.machine.Ensure(status.Error, authErr.Error())
			return err
		}
		m.logger.Warn("live channel connect failed", zap.String("endpoint", endpoint), zap.Error(err))
		_ = m.machine.Ensure(status.Error, err.Error())
		m.scheduleRetryLocked(gen)
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	readerCtx, stop := context.WithCancel(context.Background())
	m.conn = conn
	m.stopReader = stop
	m.attempts = 0
	_ = m.machine.Transition(status.Connected, "authenticated")
	m.logger.Info("live channel connected", zap.String("endpoint", endpoint))

	go m.readLoop(readerCtx, gen, conn)
	return nil
}

func handshake(ctx context.Context, conn Conn, token string) error {
	p, err := encodeFrame(EventAuth, authData{Token: token})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, p); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return &AuthError{Reason: "closed with policy violation"}
			}
			return fmt.Errorf("await handshake: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			continue
		}
		switch f.Event {
		case EventConnect:
			return nil
		case EventAuthError:
			return &AuthError{Reason: reasonOf(f.Data)}
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleDrop(gen, conn, err)
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			m.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		if f.Event == EventAuthError {
			_ = conn.Close(websocket.StatusPolicyViolation, "auth rejected")
			m.handleDrop(gen, conn, &AuthError{Reason: reasonOf(f.Data)})
			return
		}
		m.dispatch(f)
	}
}

func (m *Manager) dispatch(f Frame) {
	m.mu.Lock()
	h := m.handlers[f.Event]
	m.mu.Unlock()
	if h == nil {
		m.logger.Debug("no handler for event", zap.String("event", f.Event))
		return
	}
	h(f.Data)
}

func (m *Manager) handleDrop(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || conn != m.conn {
		return
	}
	m.conn = nil
	if m.stopReader != nil {
		m.stopReader()
		m.stopReader = nil
	}

	switch classifyDrop(err) {
	case dropAuth:
		m.logger.Warn("live channel closed: authentication rejected", zap.Error(err))
		_ = m.machine.Ensure(status.Error, "authentication rejected")
	case dropServerClosed:
		m.logger.Info("live channel closed by server")
		_ = m.machine.Ensure(status.Disconnected, "closed by server")
	default:
		m.logger.Warn("live channel dropped", zap.Error(err))
		_ = m.machine.Ensure(status.Disconnected, err.Error())
		m.scheduleRetryLocked(gen)
	}
}

// scheduleRetryLocked arms at most one reconnect timer. Once MaxAttempts is
// spent the channel parks in Error until the next explicit Connect.
func (m *Manager) scheduleRetryLocked(gen uint64) {
	if m.retry != nil {
		return
	}
	if m.attempts >= m.opts.MaxAttempts {
		m.logger.Error("giving up on live channel", zap.Int("attempts", m.attempts))
		_ = m.machine.Ensure(status.Error, "reconnect attempts exhausted")
		return
	}
	m.attempts++
	delay := Backoff(m.attempts, m.opts.BackoffBase, m.opts.BackoffMax)
	m.logger.Info("scheduling reconnect", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
	m.retry = m.after(delay, func() { m.retryNow(gen) })
}

func (m *Manager) retryNow(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	cred := m.creds.Get()
	if !cred.Valid(m.now()) {
		_ = m.machine.Ensure(status.Error, "missing credential")
		m.mu.Unlock()
		return
	}
	m.dialing = true
	_ = m.machine.Ensure(status.Connecting, fmt.Sprintf("reconnect attempt %d", m.attempts))
	endpoint := m.endpoint
	m.mu.Unlock()

	_ = m.attempt(context.Background(), gen, endpoint, cred.Token)
}

func (m *Manager) teardownLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.stopReader != nil {
		m.stopReader()
		m.stopReader = nil
	}
	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		m.conn = nil
		_ = m.machine.Ensure(status.Disconnected, "client disconnect")
	}
}
