package live

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-yatube/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

const testSecret = "test-secret"

func newLiveApp(hub *Hub) *fiber.App {
	app := fiber.New()
	app.Use(auth.Identify(testSecret))
	RegisterRoutes(app.Group("/live"), hub)
	return app
}

func bearer(t *testing.T, id string) http.Header {
	t.Helper()
	token, err := auth.NewService(testSecret, nil).IssueToken(auth.User{ID: id, Username: id})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestLiveRequiresLogin(t *testing.T) {
	app := newLiveApp(NewHub(nil, staticFollowers{}, nil))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/live/ws", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected login redirect, got %d", resp.StatusCode)
	}
}

func TestLiveUpgradeRequired(t *testing.T) {
	app := newLiveApp(NewHub(nil, staticFollowers{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/live/ws", nil)
	req.Header = bearer(t, "reader")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}

func TestLiveWebsocketReceivesEvents(t *testing.T) {
	hub := NewHub(nil, staticFollowers{}, nil)
	app := newLiveApp(hub)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	defer ln.Close()

	go func() {
		_ = app.Listener(ln)
	}()
	defer func() { _ = app.Shutdown() }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/live/ws", bearer(t, "reader"))
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.connected("reader") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("socket never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Deliver(context.Background(), "reader", []byte(`{"type":"post_created"}`))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != `{"type":"post_created"}` {
		t.Fatalf("unexpected message %s", msg)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	deadline = time.Now().Add(time.Second)
	for hub.connected("reader") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("socket never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
