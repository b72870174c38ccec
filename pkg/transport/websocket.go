package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
)

const eventBufferSize = 64

// envelope is the JSON frame exchanged on the push channel.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSTransport implements Transport over a WebSocket connection.
type WSTransport struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   logger.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	closeReason string
}

// NewWebSocket creates a transport dialing the given ws:// or wss:// endpoint.
func NewWebSocket(endpoint string, log logger.Logger) *WSTransport {
	return &WSTransport{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		logger:   log,
	}
}

// Connect dials the backend and starts the read loop. The returned channel
// delivers inbound events in receipt order and closes when the session ends.
func (t *WSTransport) Connect(ctx context.Context, query url.Values) (<-chan Event, error) {
	endpoint, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint %q: %w", models.ErrConnectionFailed, t.endpoint, err)
	}

	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			t.logger.Warn().Str("status", resp.Status).Msg("Push channel dial rejected")
		}

		return nil, fmt.Errorf("%w: %w", models.ErrConnectionFailed, err)
	}

	events := make(chan Event, eventBufferSize)

	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.closeReason = ""
	t.mu.Unlock()

	t.logger.Info().Str("endpoint", endpoint.Redacted()).Msg("Push channel connected")

	go t.readLoop(conn, events)

	return events, nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, events chan<- Event) {
	defer close(events)

	for {
		var msg envelope

		if err := conn.ReadJSON(&msg); err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
				t.closeReason = closeReasonFromError(err)
			}
			t.mu.Unlock()

			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn().Err(err).Msg("Push channel closed unexpectedly")
			}

			return
		}

		events <- Event{Name: msg.Event, Data: msg.Data}
	}
}

// Emit sends a named event to the backend.
func (t *WSTransport) Emit(event string, payload interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	var data json.RawMessage

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", event, err)
		}

		data = encoded
	}

	if err := conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}

	return nil
}

// Disconnect closes the current session cleanly. The read loop observes the
// closed connection and closes the event channel.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closeReason = "closed by client"
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	return conn.Close()
}

// CloseReason reports why the last session ended.
func (t *WSTransport) CloseReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeReason
}

func closeReasonFromError(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return "closed by server"
		}

		return fmt.Sprintf("connection closed (code %d)", closeErr.Code)
	}

	return err.Error()
}
