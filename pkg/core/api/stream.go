package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
)

const (
	clientSendBuffer = 32
	writeWait        = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// Stream message types pushed to dashboard clients.
const (
	streamTypeNotification = "notification"
	streamTypeConnection   = "connection_state"
	streamTypeStats        = "stats"
	streamTypePing         = "ping"
)

// StreamMessage is the envelope pushed to dashboard clients.
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans live updates out to connected dashboard clients. It implements
// core.Broadcaster; all broadcast methods are non-blocking, and a client
// that cannot keep up is dropped.
type Hub struct {
	logger   logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan StreamMessage
}

// NewHub creates an empty hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		logger: log,
		upgrader: websocket.Upgrader{
			// Origin enforcement happens in the CORS middleware; the
			// stream endpoint follows the same policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Notify pushes a transient operator notification.
func (h *Hub) Notify(n models.Notification) {
	h.broadcast(StreamMessage{Type: streamTypeNotification, Data: n, Timestamp: time.Now().UTC()})
}

// ConnectionStateChanged pushes the new push-channel state.
func (h *Hub) ConnectionStateChanged(state models.ConnectionState) {
	h.broadcast(StreamMessage{Type: streamTypeConnection, Data: state, Timestamp: time.Now().UTC()})
}

// StatsUpdated pushes recomputed aggregate counts.
func (h *Hub) StatsUpdated(stats models.DeviceStats) {
	h.broadcast(StreamMessage{Type: streamTypeStats, Data: stats, Timestamp: time.Now().UTC()})
}

// ClientCount reports the number of attached dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func (h *Hub) broadcast(msg StreamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Slow consumer; drop it rather than stall the fleet view.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Stream upgrade failed")
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan StreamMessage, clientSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Dashboard stream client attached")

	go h.writePump(client)
	h.readPump(client)
}

// readPump discards inbound frames and detaches the client when the
// connection drops.
func (h *Hub) readPump(client *hubClient) {
	defer h.detach(client)

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() { _ = client.conn.Close() }()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := client.conn.WriteJSON(StreamMessage{Type: streamTypePing, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) detach(client *hubClient) {
	h.mu.Lock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}

	h.mu.Unlock()

	_ = client.conn.Close()
}
