package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/agentclaw/internal/mailbus"
)

func newTestHub(t *testing.T) (*WSHub, *httptest.Server) {
	t.Helper()
	bus := mailbus.New()
	s := New("127.0.0.1:0", "", bus, func(context.Context) interface{} { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(s.hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return s.hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandleWebSocketUpgradesAndRegisters(t *testing.T) {
	hub, srv := newTestHub(t)
	dialWS(t, srv)

	deadline := time.After(time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 1 registered client, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBroadcastDeliversToConnectedClient(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dialWS(t, srv)

	hub.Broadcast("task.created", map[string]string{"id": "abc"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected to receive broadcast message, got error: %v", err)
	}
	if !strings.Contains(string(msg), "task.created") || !strings.Contains(string(msg), "abc") {
		t.Errorf("expected message to contain event type and data, got %s", msg)
	}
}

func TestDisconnectUnregistersClient(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dialWS(t, srv)
	conn.Close()

	deadline := time.After(time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected client to be unregistered after close, got %d clients", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBroadcastDropsWhenChannelFull(t *testing.T) {
	bus := mailbus.New()
	s := New("127.0.0.1:0", "", bus, func(context.Context) interface{} { return nil })

	for i := 0; i < 300; i++ {
		s.hub.Broadcast("flood", i)
	}
}

func TestRunClosesClientsOnContextCancel(t *testing.T) {
	bus := mailbus.New()
	s := New("127.0.0.1:0", "", bus, func(context.Context) interface{} { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(s.hub.HandleWebSocket))
	defer srv.Close()
	conn := dialWS(t, srv)

	deadline := time.After(time.Second)
	for {
		s.hub.mu.RLock()
		n := len(s.hub.clients)
		s.hub.mu.RUnlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected client registered before cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close after hub context is cancelled")
	}
}
