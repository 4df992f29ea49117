package solana

import (
	"context"
	"encoding/json"
	"errors"
)

// Kind is the classification of a transaction's logs.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindOther    Kind = "other"
)

// State is the monitor's connection lifecycle phase.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribing  State = "subscribing"
	StateListening    State = "listening"
	StateStopping     State = "stopping"
)

var (
	// ErrAlreadyRunning is returned by Run while another Run is active.
	ErrAlreadyRunning = errors.New("monitor already running")
	// ErrSubscribeRejected wraps an error acknowledgment from the node.
	ErrSubscribeRejected = errors.New("subscription rejected")
)

// LogEvent is one logsNotification for a transaction mentioning the watched
// address.
type LogEvent struct {
	Signature string
	Logs      []string
	Slot      int64
	// Err is the transaction error reported by the node, null on success.
	Err json.RawMessage
	// Raw is the undecoded notification frame.
	Raw json.RawMessage
}

// Kind classifies the event from its logs on every call.
func (e LogEvent) Kind() Kind {
	return Classify(e.Logs)
}

// Handler consumes transfer events. It runs on the monitor's read loop, so
// events are delivered one at a time in arrival order.
type Handler func(ctx context.Context, ev LogEvent) error

// Observer receives monitor lifecycle signals, typically for metrics.
type Observer interface {
	Reconnecting()
	Subscribed()
	LogEvent(kind string)
	HandlerFailed()
}

type nopObserver struct{}

func (nopObserver) Reconnecting()   {}
func (nopObserver) Subscribed()     {}
func (nopObserver) LogEvent(string) {}
func (nopObserver) HandlerFailed()  {}

// JSON-RPC wire types.

const (
	methodSubscribe    = "logsSubscribe"
	methodUnsubscribe  = "logsUnsubscribe"
	methodNotification = "logsNotification"

	// The unsubscribe is the last frame of a session, so it reuses id 1.
	subscribeRequestID   int64 = 1
	unsubscribeRequestID int64 = 1
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcFrame covers both responses (id set) and notifications (method set).
type rpcFrame struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      *int64              `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
	Params  *notificationParams `json:"params,omitempty"`
}

type notificationParams struct {
	Subscription int64              `json:"subscription"`
	Result       notificationResult `json:"result"`
}

type notificationResult struct {
	Context struct {
		Slot int64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string          `json:"signature"`
		Err       json.RawMessage `json:"err"`
		Logs      []string        `json:"logs"`
	} `json:"value"`
}
