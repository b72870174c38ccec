package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
)

var testUpgrader = websocket.Upgrader{}

func newPushServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}

		defer func() { _ = conn.Close() }()

		handler(conn)
	}))

	t.Cleanup(srv.Close)

	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectDeliversEventsInOrder(t *testing.T) {
	srv := newPushServer(t, func(conn *websocket.Conn) {
		for i, name := range []string{EventConnected, EventDeviceUpdate, EventDeviceUpdate} {
			payload, _ := json.Marshal(map[string]int{"seq": i})
			require.NoError(t, conn.WriteJSON(envelope{Event: name, Data: payload}))
		}
	})

	tr := NewWebSocket(wsURL(srv), logger.NewTestLogger())

	events, err := tr.Connect(context.Background(), nil)
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, EventConnected, got[0].Name)

	for i, ev := range got {
		var body map[string]int
		require.NoError(t, json.Unmarshal(ev.Data, &body))
		assert.Equal(t, i, body["seq"])
	}
}

func TestConnectPassesQueryParams(t *testing.T) {
	gotQuery := make(chan url.Values, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery <- r.URL.Query()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	tr := NewWebSocket(wsURL(srv), logger.NewTestLogger())

	events, err := tr.Connect(context.Background(), url.Values{"credential": {"tok-1"}})
	require.NoError(t, err)

	select {
	case q := <-gotQuery:
		assert.Equal(t, "tok-1", q.Get("credential"))
	case <-time.After(time.Second):
		t.Fatal("server never saw the request")
	}

	for range events {
	}
}

func TestEmitRoundTrip(t *testing.T) {
	received := make(chan envelope, 1)

	srv := newPushServer(t, func(conn *websocket.Conn) {
		var msg envelope
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	})

	tr := NewWebSocket(wsURL(srv), logger.NewTestLogger())

	events, err := tr.Connect(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, tr.Emit(EventRegister, map[string]string{"credential": "tok-1"}))

	select {
	case msg := <-received:
		assert.Equal(t, EventRegister, msg.Event)

		var body map[string]string
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		assert.Equal(t, "tok-1", body["credential"])
	case <-time.After(time.Second):
		t.Fatal("server never received the emit")
	}

	require.NoError(t, tr.Disconnect())

	for range events {
	}
}

func TestEmitWithoutConnection(t *testing.T) {
	tr := NewWebSocket("ws://127.0.0.1:0", logger.NewTestLogger())

	assert.ErrorIs(t, tr.Emit(EventRefresh, nil), ErrNotConnected)
}

func TestDisconnectClosesEventChannel(t *testing.T) {
	srv := newPushServer(t, func(conn *websocket.Conn) {
		// Hold the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := NewWebSocket(wsURL(srv), logger.NewTestLogger())

	events, err := tr.Connect(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, tr.Disconnect())

	select {
	case _, open := <-events:
		assert.False(t, open, "expected event channel to close")
	case <-time.After(time.Second):
		t.Fatal("event channel never closed")
	}

	assert.Equal(t, "closed by client", tr.CloseReason())
}

func TestConnectFailure(t *testing.T) {
	tr := NewWebSocket("ws://127.0.0.1:1", logger.NewTestLogger())

	_, err := tr.Connect(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConnectionFailed)
}
