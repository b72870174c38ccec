// Package transport abstracts the push channel to the monitoring backend.
package transport

//go:generate mockgen -destination=mock_transport.go -package=transport github.com/fleetdash/fleetdash/pkg/transport Transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
)

// Inbound event names delivered by the backend.
const (
	EventConnected      = "connected"
	EventDisconnected   = "disconnected"
	EventDeviceSnapshot = "device_snapshot"
	EventDeviceUpdate   = "device_update"
	EventServerError    = "server_error"
)

// Outbound event names sent by this client.
const (
	EventRegister = "register"
	EventRefresh  = "refresh"
)

// ErrNotConnected indicates an emit was attempted without an open channel.
var ErrNotConnected = errors.New("push channel not connected")

// Event is one named message received on the push channel. Data is left raw
// so the reconciliation layer owns payload validation.
type Event struct {
	Name string
	Data json.RawMessage
}

// Transport is a single push-channel session factory. Connect returns the
// event stream for the new session; the channel closes when the session
// ends, and CloseReason reports why.
type Transport interface {
	Connect(ctx context.Context, query url.Values) (<-chan Event, error)
	Disconnect() error
	Emit(event string, payload interface{}) error
	CloseReason() string
}
