package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vdavid/mailsync/internal/events"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

const wsTestToken = "ws-test-token"

// waitForConnections polls the hub until it reports the wanted connection
// count. Registration happens after the upgrade response is written, so a
// dialer can return before the hub sees the connection.
func waitForConnections(t *testing.T, hub *ws.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ActiveConnections() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d active connections, got %d", want, hub.ActiveConnections())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketHandler_Connection(t *testing.T) {
	hub := ws.NewHub(10)
	handler := NewWebSocketHandler(wsTestToken, hub)

	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	defer server.Close()

	// Convert http:// to ws://.
	wsURL := "ws" + server.URL[4:]

	t.Run("connects with a query parameter token and receives broadcasts", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+wsTestToken, nil)
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		defer conn.Close()

		if resp.StatusCode != http.StatusSwitchingProtocols {
			t.Errorf("Expected status 101, got %d", resp.StatusCode)
		}

		waitForConnections(t, hub, 1)

		hub.Broadcast([]byte(`{"status":"starting"}`))

		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read broadcast: %v", err)
		}
		if string(msg) != `{"status":"starting"}` {
			t.Errorf("Unexpected message: %s", msg)
		}

		conn.Close()
		waitForConnections(t, hub, 0)
	})

	t.Run("accepts the Authorization header as fallback", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer " + wsTestToken}}
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		defer conn.Close()

		if resp.StatusCode != http.StatusSwitchingProtocols {
			t.Errorf("Expected status 101, got %d", resp.StatusCode)
		}

		waitForConnections(t, hub, 1)
		conn.Close()
		waitForConnections(t, hub, 0)
	})

	t.Run("rejects a missing token", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			conn.Close()
			t.Fatal("Expected connection to fail without a token")
		}
		if resp == nil {
			t.Fatal("Expected an HTTP response for the failed handshake")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", resp.StatusCode)
		}
	})

	t.Run("rejects a wrong token", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=wrong", nil)
		if err == nil {
			conn.Close()
			t.Fatal("Expected connection to fail with a wrong token")
		}
		if resp == nil {
			t.Fatal("Expected an HTTP response for the failed handshake")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", resp.StatusCode)
		}
	})
}

func TestWebSocketHandler_ConnectionLimit(t *testing.T) {
	hub := ws.NewHub(1)
	handler := NewWebSocketHandler(wsTestToken, hub)

	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	defer server.Close()

	wsURL := "ws" + server.URL[4:] + "?token=" + wsTestToken

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect first client: %v", err)
	}
	defer first.Close()
	waitForConnections(t, hub, 1)

	// The second handshake succeeds because the upgrade happens before the
	// limit check, but the server closes it immediately afterwards.
	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to open second connection: %v", err)
	}
	defer second.Close()

	if err := second.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, _, err = second.ReadMessage()
	if err == nil {
		t.Fatal("Expected the over-limit connection to be closed")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Expected a policy violation close, got %v", err)
	}

	if got := hub.ActiveConnections(); got != 1 {
		t.Errorf("Expected 1 active connection, got %d", got)
	}
}

func TestWebSocketHandler_ForwardsBusEvents(t *testing.T) {
	bus := events.NewBus(16)
	hub := ws.NewHub(10)
	handler := NewWebSocketHandler(wsTestToken, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Forward(ctx, bus)

	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:]+"?token="+wsTestToken, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	waitForConnections(t, hub, 1)

	bus.Publish(events.Event{
		RunID:     "run-42",
		AccountID: 7,
		Email:     "user@example.com",
		Status:    events.StatusSyncing,
		Current:   2,
		Total:     5,
	})

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read forwarded event: %v", err)
	}

	var event events.Event
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("Failed to decode forwarded event: %v", err)
	}
	if event.RunID != "run-42" {
		t.Errorf("Expected run_id 'run-42', got %q", event.RunID)
	}
	if event.AccountID != 7 {
		t.Errorf("Expected account_id 7, got %d", event.AccountID)
	}
	if event.Status != events.StatusSyncing {
		t.Errorf("Expected status syncing, got %q", event.Status)
	}
	if event.Current != 2 || event.Total != 5 {
		t.Errorf("Expected progress 2/5, got %d/%d", event.Current, event.Total)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected the bus to stamp the event timestamp")
	}
}
