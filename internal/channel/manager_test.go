package channel

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/credential"
	"github.com/matheus3301/wppsync/internal/status"
)

const testEndpoint = "ws://gateway.test/live"

type fakeConn struct {
	in   chan []byte
	drop chan error
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	writes    []Frame
	writeErrs []error
	closeCode websocket.StatusCode
}

func newFakeConn(handshake ...string) *fakeConn {
	c := &fakeConn{
		in:   make(chan []byte, 16),
		drop: make(chan error, 1),
		done: make(chan struct{}),
	}
	for _, h := range handshake {
		c.in <- []byte(h)
	}
	return c
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.MessageText, b, nil
	case err := <-c.drop:
		return 0, nil, err
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, _ websocket.MessageType, p []byte) error {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, f)
	c.writeErrs = append(c.writeErrs, ctx.Err())
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) sent() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.writes)
}

type fakeDialer struct {
	mu     sync.Mutex
	tokens []string
	next   func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(_ context.Context, _ string, token string) (Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	n := len(d.tokens)
	d.mu.Unlock()
	return d.next(n)
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) after(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fireNext runs the oldest pending timer. It reports false when none is pending.
func (c *fakeClock) fireNext() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	c.mu.Unlock()
	next.f()
	return true
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, token string, d Dialer) (*Manager, *fakeClock) {
	t.Helper()
	m := NewManager(d, credential.NewStore(token), status.NewMachine(bus.New()), DefaultOptions(), zap.NewNop())
	clock := &fakeClock{}
	m.after = clock.after
	t.Cleanup(m.Disconnect)
	return m, clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

const connectFrame = `{"event":"connect"}`

func TestConnectAuthenticates(t *testing.T) {
	conn := newFakeConn(connectFrame)
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, _ := newTestManager(t, "tok-1", d)

	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if m.State() != status.Connected {
		t.Fatalf("state = %s, want connected", m.State())
	}

	sent := conn.sent()
	if len(sent) != 1 || sent[0].Event != EventAuth {
		t.Fatalf("writes = %+v, want one auth frame", sent)
	}
	var auth authData
	if err := json.Unmarshal(sent[0].Data, &auth); err != nil || auth.Token != "tok-1" {
		t.Errorf("auth payload = %s, want token tok-1", sent[0].Data)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(connectFrame), nil }}
	m, _ := newTestManager(t, "tok", d)

	for range 3 {
		if err := m.Connect(context.Background(), testEndpoint); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	if got := d.calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestConnectWithoutCredential(t *testing.T) {
	d := &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(connectFrame), nil }}
	m, clock := newTestManager(t, "", d)

	err := m.Connect(context.Background(), testEndpoint)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if m.State() != status.Error {
		t.Errorf("state = %s, want error", m.State())
	}
	if d.calls() != 0 {
		t.Errorf("dial calls = %d, want 0", d.calls())
	}
	if clock.pending() != 0 {
		t.Error("reconnect scheduled without a credential")
	}
}

func TestAuthRejectionIsTerminal(t *testing.T) {
	conn := newFakeConn(`{"event":"auth_error","data":{"message":"token revoked"}}`)
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, clock := newTestManager(t, "tok", d)

	err := m.Connect(context.Background(), testEndpoint)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if authErr.Reason != "token revoked" {
		t.Errorf("reason = %q", authErr.Reason)
	}
	if m.State() != status.Error {
		t.Errorf("state = %s, want error", m.State())
	}
	if len(clock.delays()) != 0 {
		t.Errorf("reconnect scheduled after auth rejection: %v", clock.delays())
	}
}

func TestReconnectBackoffSchedule(t *testing.T) {
	d := &fakeDialer{next: func(int) (Conn, error) { return nil, errors.New("connection refused") }}
	m, clock := newTestManager(t, "tok", d)

	if err := m.Connect(context.Background(), testEndpoint); err == nil {
		t.Fatal("expected connect error")
	}
	for clock.fireNext() {
	}

	s := time.Second
	want := []time.Duration{2 * s, 4 * s, 8 * s, 16 * s, 30 * s, 30 * s, 30 * s, 30 * s, 30 * s, 30 * s}
	if got := clock.delays(); !slices.Equal(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
	if got := d.calls(); got != 11 {
		t.Errorf("dial calls = %d, want 11", got)
	}
	if m.State() != status.Error {
		t.Errorf("state = %s, want error", m.State())
	}
}

func TestUnexpectedDropReconnects(t *testing.T) {
	conns := []*fakeConn{newFakeConn(connectFrame), newFakeConn(connectFrame)}
	d := &fakeDialer{next: func(n int) (Conn, error) { return conns[n-1], nil }}
	m, clock := newTestManager(t, "tok", d)

	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conns[0].drop <- websocket.CloseError{Code: websocket.StatusGoingAway}

	waitFor(t, "reconnect to be scheduled", func() bool { return clock.pending() == 1 })
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
	if got := clock.delays(); got[0] != 2*time.Second {
		t.Errorf("first delay = %v, want 2s", got[0])
	}

	clock.fireNext()
	if m.State() != status.Connected {
		t.Fatalf("state after retry = %s, want connected", m.State())
	}

	// The retry counter restarts after a successful connection.
	conns[1].drop <- errors.New("read: connection reset by peer")
	waitFor(t, "second reconnect", func() bool { return clock.pending() == 1 })
	if got := clock.delays(); got[1] != 2*time.Second {
		t.Errorf("delay after recovery = %v, want 2s", got[1])
	}
}

func TestServerCloseDoesNotReconnect(t *testing.T) {
	conn := newFakeConn(connectFrame)
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, clock := newTestManager(t, "tok", d)

	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.drop <- websocket.CloseError{Code: websocket.StatusNormalClosure}

	waitFor(t, "disconnected", func() bool { return m.State() == status.Disconnected })
	time.Sleep(20 * time.Millisecond)
	if len(clock.delays()) != 0 {
		t.Errorf("reconnect scheduled after server close: %v", clock.delays())
	}
}

func TestPolicyCloseIsAuthFailure(t *testing.T) {
	conn := newFakeConn(connectFrame)
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, clock := newTestManager(t, "tok", d)

	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.drop <- websocket.CloseError{Code: websocket.StatusPolicyViolation, Reason: "expired"}

	waitFor(t, "error state", func() bool { return m.State() == status.Error })
	if len(clock.delays()) != 0 {
		t.Errorf("reconnect scheduled after auth close: %v", clock.delays())
	}
}

func TestSingleReconnectTimer(t *testing.T) {
	d := &fakeDialer{next: func(int) (Conn, error) { return nil, errors.New("refused") }}
	m, clock := newTestManager(t, "tok", d)
	_ = m.Connect(context.Background(), testEndpoint)

	m.mu.Lock()
	m.scheduleRetryLocked(m.gen)
	m.scheduleRetryLocked(m.gen)
	m.mu.Unlock()

	if got := clock.pending(); got != 1 {
		t.Errorf("pending timers = %d, want 1", got)
	}
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	d := &fakeDialer{next: func(int) (Conn, error) { return nil, errors.New("refused") }}
	m, clock := newTestManager(t, "tok", d)
	_ = m.Connect(context.Background(), testEndpoint)
	if clock.pending() != 1 {
		t.Fatalf("pending = %d, want 1", clock.pending())
	}

	clock.mu.Lock()
	stale := clock.timers[0].f
	clock.mu.Unlock()

	m.Disconnect()
	if clock.pending() != 0 {
		t.Error("timer still pending after Disconnect")
	}
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}

	stale()
	if d.calls() != 1 {
		t.Errorf("stale timer dialed: calls = %d", d.calls())
	}
}

func TestHandshakeTimeoutRetries(t *testing.T) {
	d := &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(), nil }}
	m, clock := newTestManager(t, "tok", d)
	m.opts.ConnectTimeout = 30 * time.Millisecond

	if err := m.Connect(context.Background(), testEndpoint); err == nil {
		t.Fatal("expected handshake timeout")
	}
	if m.State() != status.Error {
		t.Errorf("state = %s, want error", m.State())
	}
	if clock.pending() != 1 {
		t.Errorf("pending = %d, want 1", clock.pending())
	}
}

func TestUpdateCredentialReconnects(t *testing.T) {
	d := &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(connectFrame), nil }}
	m, _ := newTestManager(t, "old", d)

	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.UpdateCredential(context.Background(), "new"); err != nil {
		t.Fatalf("UpdateCredential: %v", err)
	}

	d.mu.Lock()
	tokens := slices.Clone(d.tokens)
	d.mu.Unlock()
	if !slices.Equal(tokens, []string{"old", "new"}) {
		t.Errorf("tokens = %v, want [old new]", tokens)
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want connected", m.State())
	}
}

func TestEmitRequiresConnection(t *testing.T) {
	conn := newFakeConn(connectFrame)
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, _ := newTestManager(t, "tok", d)

	if err := m.Emit(context.Background(), "chat:get-list", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Emit(context.Background(), "chat:get-list", map[string]int{"limit": 50}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	sent := conn.sent()
	if last := sent[len(sent)-1]; last.Event != "chat:get-list" || string(last.Data) != `{"limit":50}` {
		t.Errorf("last frame = %s %s", last.Event, last.Data)
	}
}

func TestEmitOutlivesCallerCancel(t *testing.T) {
	conn := newFakeConn(connectFrame)
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, _ := newTestManager(t, "tok", d)
	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Emit(ctx, "chat:get-list", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	conn.mu.Lock()
	werr := conn.writeErrs[len(conn.writeErrs)-1]
	conn.mu.Unlock()
	if werr != nil {
		t.Errorf("write ctx err = %v, want a live context", werr)
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want connected", m.State())
	}
}

func TestDispatchToHandler(t *testing.T) {
	conn := newFakeConn(connectFrame)
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, _ := newTestManager(t, "tok", d)

	got := make(chan string, 1)
	m.On("chat:list", func(data json.RawMessage) { got <- string(data) })
	if err := m.Connect(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"event":"chat:list","data":[]}`)
	select {
	case data := <-got:
		if data != "[]" {
			t.Errorf("data = %s, want []", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestBackoff(t *testing.T) {
	base, max := 2*time.Second, 30*time.Second
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.n, base, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}
