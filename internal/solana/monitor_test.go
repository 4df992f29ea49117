package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMint    = "So11111111111111111111111111111111111111112"
	transferLog = "Program log: Instruction: Transfer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func notificationFrame(sub int64, sig string, logs ...string) []byte {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]any{
			"subscription": sub,
			"result": map[string]any{
				"context": map[string]any{"slot": 100},
				"value":   map[string]any{"signature": sig, "err": nil, "logs": logs},
			},
		},
	})
	return b
}

func ackFrame(sub int64) []byte {
	b, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "result": sub, "id": 1})
	return b
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// fakeConn replays queued frames and records outgoing requests.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []rpcRequest
}

func newFakeConn(frames ...[]byte) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, 64), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	if req, ok := v.(rpcRequest); ok {
		c.mu.Lock()
		c.written = append(c.written, req)
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, io.EOF
	default:
	}
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, req := range c.written {
		out = append(out, req.Method)
	}
	return out
}

// fakeDialer fails the first fail dials, then hands out connections built by
// newConn.
type fakeDialer struct {
	mu      sync.Mutex
	fail    int
	dials   int
	conns   []*fakeConn
	newConn func() *fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.fail {
		return nil, errors.New("connection refused")
	}
	c := d.newConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func newTestMonitor(opts MonitorOptions, handler Handler) (*Monitor, *sleepRecorder) {
	opts.MintAddress = testMint
	if opts.URL == "" {
		opts.URL = "ws://fake"
	}
	if opts.SubscribeTimeout == 0 {
		opts.SubscribeTimeout = 2 * time.Second
	}
	m := NewMonitor(opts, handler, zerolog.Nop())
	rec := &sleepRecorder{}
	m.sleep = rec.sleep
	return m, rec
}

// startMonitor runs m in the background and returns a func that stops it and
// returns Run's result.
func startMonitor(t *testing.T, m *Monitor) func() error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			m.Stop()
			select {
			case result = <-errCh:
			case <-time.After(3 * time.Second):
				result = errors.New("monitor did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitForState(t *testing.T, m *Monitor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 3*time.Second, 5*time.Millisecond,
		"monitor never reached %s", want)
}

func TestMonitorDeliversTransfersInOrder(t *testing.T) {
	acks := map[string][]byte{
		"ack with id":    ackFrame(42),
		"ack without id": []byte(`{"result":42}`),
	}
	for name, ack := range acks {
		t.Run(name, func(t *testing.T) {
			testDeliversTransfersInOrder(t, ack)
		})
	}
}

func testDeliversTransfersInOrder(t *testing.T, ack []byte) {
	subscribeReq := make(chan rpcRequest, 1)
	unsubscribeReq := make(chan rpcRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		var req rpcRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		subscribeReq <- req

		frames := [][]byte{
			ack,
			notificationFrame(42, "mint-only", "Program log: Instruction: MintTo"),
			notificationFrame(42, "sig-1", transferLog),
			[]byte(`{not json`),
			[]byte(`{"jsonrpc":"2.0","result":true,"id":1}`),
			notificationFrame(99, "other-subscription", transferLog),
			notificationFrame(42, "sig-2", "Program log: Instruction: TransferChecked"),
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}

		for {
			var req rpcRequest
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == methodUnsubscribe {
				unsubscribeReq <- req
			}
		}
	}))
	defer srv.Close()

	events := make(chan LogEvent, 8)
	m, sleeps := newTestMonitor(MonitorOptions{URL: wsURL(srv)}, func(_ context.Context, ev LogEvent) error {
		events <- ev
		return nil
	})
	stop := startMonitor(t, m)

	select {
	case req := <-subscribeReq:
		assert.Equal(t, methodSubscribe, req.Method)
		assert.Equal(t, subscribeRequestID, req.ID)
		require.Len(t, req.Params, 2)
		filter, _ := req.Params[0].(map[string]any)
		assert.Equal(t, []any{testMint}, filter["mentions"])
		assert.Equal(t, map[string]any{"commitment": "confirmed"}, req.Params[1])
	case <-time.After(3 * time.Second):
		t.Fatal("no subscribe request received")
	}

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-events:
			assert.Equal(t, KindTransfer, ev.Kind())
			assert.Equal(t, int64(100), ev.Slot)
			got = append(got, ev.Signature)
		case <-time.After(3 * time.Second):
			t.Fatalf("expected two transfer events, got %v", got)
		}
	}
	assert.Equal(t, []string{"sig-1", "sig-2"}, got)
	assert.Equal(t, StateListening, m.State())

	require.NoError(t, stop())
	select {
	case req := <-unsubscribeReq:
		assert.Equal(t, unsubscribeRequestID, req.ID)
		assert.Equal(t, []any{float64(42)}, req.Params)
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not send logsUnsubscribe")
	}
	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, sleeps.count())
	assert.Empty(t, events, "no further events after the two transfers")
}

func TestMonitorRejectedSubscribeReconnects(t *testing.T) {
	rejections := map[string][]byte{
		"error with id":    []byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid param: WrongSize"},"id":1}`),
		"error without id": []byte(`{"error":{"message":"x"}}`),
	}
	for name, rejection := range rejections {
		t.Run(name, func(t *testing.T) {
			testRejectedSubscribeReconnects(t, rejection)
		})
	}
}

func testRejectedSubscribeReconnects(t *testing.T, rejection []byte) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		n := conns.Add(1)
		var req rpcRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		if n == 1 {
			_ = c.WriteMessage(websocket.TextMessage, rejection)
		} else {
			_ = c.WriteMessage(websocket.TextMessage, ackFrame(7))
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m, sleeps := newTestMonitor(MonitorOptions{URL: wsURL(srv)}, func(context.Context, LogEvent) error { return nil })
	stop := startMonitor(t, m)

	waitForState(t, m, StateListening)
	assert.Equal(t, int32(2), conns.Load())
	assert.Equal(t, 1, sleeps.count())
	require.NoError(t, stop())
}

func TestMonitorSkipsUnrelatedFramesBeforeAck(t *testing.T) {
	dialer := &fakeDialer{newConn: func() *fakeConn {
		return newFakeConn(
			[]byte(`{"jsonrpc":"2.0","result":true,"id":5}`),
			notificationFrame(3, "early", transferLog),
			[]byte(`{"result":42}`),
		)
	}}
	m, sleeps := newTestMonitor(MonitorOptions{Dialer: dialer, SubscribeTimeout: time.Minute}, func(context.Context, LogEvent) error { return nil })
	stop := startMonitor(t, m)

	waitForState(t, m, StateListening)
	assert.Zero(t, sleeps.count())
	require.NoError(t, stop())

	dialer.mu.Lock()
	conn := dialer.conns[0]
	dialer.mu.Unlock()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.written, 2)
	assert.Equal(t, methodUnsubscribe, conn.written[1].Method)
	assert.Equal(t, []any{int64(42)}, conn.written[1].Params, "subscription id comes from the id-less ack")
}

func TestMonitorReconnectsAfterTwoFailures(t *testing.T) {
	dialer := &fakeDialer{fail: 2, newConn: func() *fakeConn { return newFakeConn(ackFrame(5)) }}
	m, sleeps := newTestMonitor(MonitorOptions{Dialer: dialer}, func(context.Context, LogEvent) error { return nil })
	stop := startMonitor(t, m)

	waitForState(t, m, StateListening)
	assert.Equal(t, 3, dialer.dialCount())

	sleeps.mu.Lock()
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, sleeps.delays)
	sleeps.mu.Unlock()

	require.NoError(t, stop())
}

func TestMonitorHandlerFailureDoesNotReconnect(t *testing.T) {
	dialer := &fakeDialer{newConn: func() *fakeConn {
		return newFakeConn(
			ackFrame(5),
			notificationFrame(5, "a", transferLog),
			notificationFrame(5, "b", transferLog),
			notificationFrame(5, "c", transferLog),
		)
	}}

	var calls atomic.Int32
	done := make(chan struct{})
	m, sleeps := newTestMonitor(MonitorOptions{Dialer: dialer}, func(_ context.Context, ev LogEvent) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("telegram down")
		case 2:
			panic("boom")
		default:
			close(done)
			return nil
		}
	})
	stop := startMonitor(t, m)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("handler saw %d events, want 3", calls.Load())
	}

	assert.Equal(t, StateListening, m.State())
	assert.Equal(t, 1, dialer.dialCount())
	assert.Zero(t, sleeps.count())
	require.NoError(t, stop())
}

func TestMonitorTransportDropReconnects(t *testing.T) {
	dialer := &fakeDialer{newConn: func() *fakeConn { return newFakeConn(ackFrame(9)) }}
	m, sleeps := newTestMonitor(MonitorOptions{Dialer: dialer}, func(context.Context, LogEvent) error { return nil })
	stop := startMonitor(t, m)

	waitForState(t, m, StateListening)
	dialer.mu.Lock()
	first := dialer.conns[0]
	dialer.mu.Unlock()
	_ = first.Close()

	require.Eventually(t, func() bool { return dialer.dialCount() == 2 }, 3*time.Second, 5*time.Millisecond)
	waitForState(t, m, StateListening)
	assert.Equal(t, 1, sleeps.count())
	require.NoError(t, stop())
}

func TestMonitorStopWhileSubscribing(t *testing.T) {
	// No ack is ever sent, so the monitor waits in Subscribing.
	dialer := &fakeDialer{newConn: func() *fakeConn { return newFakeConn() }}
	m, _ := newTestMonitor(MonitorOptions{Dialer: dialer, SubscribeTimeout: time.Minute}, func(context.Context, LogEvent) error { return nil })
	stop := startMonitor(t, m)

	waitForState(t, m, StateSubscribing)
	require.NoError(t, stop())

	dialer.mu.Lock()
	conn := dialer.conns[0]
	dialer.mu.Unlock()
	assert.Equal(t, []string{methodSubscribe}, conn.methods(), "no unsubscribe without a subscription id")
}

func TestMonitorRunIsExclusiveAndRestartable(t *testing.T) {
	dialer := &fakeDialer{newConn: func() *fakeConn { return newFakeConn(ackFrame(3)) }}
	m, _ := newTestMonitor(MonitorOptions{Dialer: dialer}, func(context.Context, LogEvent) error { return nil })

	stop := startMonitor(t, m)
	waitForState(t, m, StateListening)
	assert.ErrorIs(t, m.Run(context.Background()), ErrAlreadyRunning)
	require.NoError(t, stop())

	dialer.mu.Lock()
	assert.Equal(t, []string{methodSubscribe, methodUnsubscribe}, dialer.conns[0].methods())
	dialer.mu.Unlock()

	stop = startMonitor(t, m)
	waitForState(t, m, StateListening)
	assert.Equal(t, 2, dialer.dialCount())
	require.NoError(t, stop())
}

func TestMonitorStopWithoutRun(t *testing.T) {
	m, _ := newTestMonitor(MonitorOptions{Dialer: &fakeDialer{}}, nil)
	m.Stop()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestMonitorContextCancelStops(t *testing.T) {
	dialer := &fakeDialer{newConn: func() *fakeConn { return newFakeConn(ackFrame(3)) }}
	m, _ := newTestMonitor(MonitorOptions{Dialer: dialer}, func(context.Context, LogEvent) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	waitForState(t, m, StateListening)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
