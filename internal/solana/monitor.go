// Package solana keeps a logsSubscribe subscription open for one address and
// hands transfer-shaped transactions to a callback.
package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// MonitorOptions tune the subscription client.
type MonitorOptions struct {
	URL         string
	MintAddress string
	Commitment  string

	ReconnectDelay   time.Duration
	SubscribeTimeout time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration

	// Dialer defaults to WebsocketDialer.
	Dialer   Dialer
	Observer Observer
}

// Monitor maintains a single logsSubscribe subscription, reconnecting with a
// flat delay whenever the transport or the subscription fails.
type Monitor struct {
	opts     MonitorOptions
	handler  Handler
	dialer   Dialer
	observer Observer
	logger   zerolog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	runMu  sync.Mutex
	cancel context.CancelFunc

	// mu guards state and the live subscription. subID is only set while
	// conn is set and both are cleared together.
	mu    sync.Mutex
	state State
	conn  Conn
	subID *int64

	writeMu sync.Mutex
}

// NewMonitor constructs a Monitor. handler receives transfer events only.
func NewMonitor(opts MonitorOptions, handler Handler, logger zerolog.Logger) *Monitor {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 10 * time.Second
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Commitment == "" {
		opts.Commitment = "confirmed"
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Monitor{
		opts:     opts,
		handler:  handler,
		dialer:   dialer,
		observer: observer,
		logger: logger.With().
			Str("component", "solana_monitor").
			Str("mint", opts.MintAddress).
			Logger(),
		sleep: sleepContext,
		state: StateDisconnected,
	}
}

// State returns the current lifecycle phase.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run connects, subscribes and listens until ctx is cancelled or Stop is
// called, reconnecting after every failure. It returns nil on a voluntary
// stop and may be called again afterwards.
func (m *Monitor) Run(ctx context.Context) error {
	m.runMu.Lock()
	if m.cancel != nil {
		m.runMu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.runMu.Unlock()

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		<-ctx.Done()
		m.teardown()
	}()

	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			break
		}

		m.observer.Reconnecting()
		m.transition(StateDisconnected)
		m.logger.Warn().Err(err).Dur("retry_in", m.opts.ReconnectDelay).Msg("subscription lost, reconnecting")

		if err := m.sleep(ctx, m.opts.ReconnectDelay); err != nil {
			break
		}
	}

	cancel()
	<-watchDone

	m.runMu.Lock()
	m.cancel = nil
	m.runMu.Unlock()

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Info().Msg("monitor stopped")
	return nil
}

// Stop ends the active Run. The subscription is cancelled on a best-effort
// basis and the transport is closed, which unblocks any pending read. Safe to
// call from any goroutine and when nothing is running.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	m.mu.Lock()
	m.state = StateStopping
	m.mu.Unlock()
	cancel()
}

// session runs one connect, subscribe, listen cycle. It always returns a
// non-nil error describing why the cycle ended.
func (m *Monitor) session(ctx context.Context) error {
	m.transition(StateConnecting)

	dialCtx := ctx
	if m.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.opts.HandshakeTimeout)
		defer cancel()
	}
	conn, err := m.dialer.Dial(dialCtx, m.opts.URL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if !m.attach(ctx, conn) {
		_ = conn.Close()
		return ctx.Err()
	}
	defer m.detach(conn)

	m.transition(StateSubscribing)
	subID, err := m.subscribe(conn)
	if err != nil {
		if errors.Is(err, ErrSubscribeRejected) {
			m.logger.Error().Err(err).Msg("subscribe failed")
		}
		return err
	}

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return errors.New("connection closed during subscribe")
	}
	m.subID = &subID
	m.mu.Unlock()

	m.transition(StateListening)
	m.observer.Subscribed()
	m.logger.Info().Int64("subscription_id", subID).Msg("subscribed to logs")

	pingDone := make(chan struct{})
	defer close(pingDone)
	go m.pingLoop(conn, pingDone)

	return m.listen(ctx, conn, subID)
}

// attach publishes conn as the live transport unless the run is stopping.
func (m *Monitor) attach(ctx context.Context, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	m.conn = conn
	m.subID = nil
	return true
}

// detach clears the subscription for conn if it is still live and closes it.
func (m *Monitor) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.subID = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

// teardown runs once per Run when its context ends.
func (m *Monitor) teardown() {
	m.mu.Lock()
	m.state = StateStopping
	conn, subID := m.conn, m.subID
	m.conn, m.subID = nil, nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if subID != nil {
		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      unsubscribeRequestID,
			Method:  methodUnsubscribe,
			Params:  []any{*subID},
		}
		if err := m.write(conn, req); err != nil {
			m.logger.Debug().Err(err).Msg("unsubscribe not sent")
		}
	}
	deadline := time.Now().Add(m.opts.WriteTimeout)
	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	m.writeMu.Unlock()
	_ = conn.Close()
}

func (m *Monitor) subscribe(conn Conn) (int64, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID,
		Method:  methodSubscribe,
		Params: []any{
			map[string][]string{"mentions": {m.opts.MintAddress}},
			map[string]string{"commitment": m.opts.Commitment},
		},
	}
	if err := m.write(conn, req); err != nil {
		return 0, fmt.Errorf("send subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(m.opts.SubscribeTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("await subscribe ack: %w", err)
		}

		var frame rpcFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Error().Err(err).Msg("undecodable frame while subscribing")
			continue
		}
		if !isSubscribeAck(frame) {
			continue
		}
		if frame.Error != nil {
			return 0, fmt.Errorf("%w: %s", ErrSubscribeRejected, frame.Error.Message)
		}

		var id int64
		if err := json.Unmarshal(frame.Result, &id); err != nil {
			return 0, fmt.Errorf("decode subscription id: %w", err)
		}
		_ = conn.SetReadDeadline(time.Time{})
		return id, nil
	}
}

// isSubscribeAck reports whether frame answers the subscribe request. Some
// nodes omit the id, so any response without one is taken as the ack;
// notifications and responses to other ids are not.
func isSubscribeAck(frame rpcFrame) bool {
	if frame.Method != "" {
		return false
	}
	if frame.ID != nil && *frame.ID != subscribeRequestID {
		return false
	}
	return frame.Result != nil || frame.Error != nil
}

func (m *Monitor) listen(ctx context.Context, conn Conn, subID int64) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		ev, ok, err := decodeNotification(data, subID)
		if err != nil {
			m.logger.Error().Err(err).Int("bytes", len(data)).Msg("skipping undecodable frame")
			continue
		}
		if !ok {
			continue
		}

		kind := ev.Kind()
		m.observer.LogEvent(string(kind))
		if kind != KindTransfer {
			m.logger.Debug().Str("signature", ev.Signature).Msg("ignoring non-transfer transaction")
			continue
		}
		m.dispatch(ctx, ev)
	}
}

// dispatch runs the handler; failures are logged and never end the session.
func (m *Monitor) dispatch(ctx context.Context, ev LogEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.observer.HandlerFailed()
			m.logger.Error().Interface("panic", r).Str("signature", ev.Signature).Msg("transfer handler panicked")
		}
	}()

	if err := m.handler(ctx, ev); err != nil {
		m.observer.HandlerFailed()
		m.logger.Error().Err(err).Str("signature", ev.Signature).Msg("transfer handler failed")
	}
}

func (m *Monitor) pingLoop(conn Conn, done <-chan struct{}) {
	if m.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn().Err(err).Msg("ping failed, closing connection")
				_ = conn.Close()
				return
			}
		}
	}
}

func (m *Monitor) write(conn Conn, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(v)
}

// transition moves to s unless a stop is in progress.
func (m *Monitor) transition(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopping {
		return
	}
	m.state = s
}

// decodeNotification extracts a LogEvent from a frame. ok is false for
// frames that are not notifications for subID, such as late responses.
func decodeNotification(data []byte, subID int64) (LogEvent, bool, error) {
	var frame rpcFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return LogEvent{}, false, err
	}
	if frame.Method != methodNotification {
		return LogEvent{}, false, nil
	}
	if frame.Params == nil {
		return LogEvent{}, false, errors.New("notification without params")
	}
	if frame.Params.Subscription != subID {
		return LogEvent{}, false, nil
	}

	value := frame.Params.Result.Value
	return LogEvent{
		Signature: value.Signature,
		Logs:      value.Logs,
		Slot:      frame.Params.Result.Context.Slot,
		Err:       value.Err,
		Raw:       json.RawMessage(data),
	}, true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
