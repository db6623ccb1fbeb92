package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/speech-bridge/internal/resilience"
)

var testUpgrader = websocket.Upgrader{}

// newBackend starts a WebSocket server running handler for each connection
func newBackend(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEOFMessage(t *testing.T) {
	if string(EOFMessage) != `{"eof":"true"}` {
		t.Errorf("Expected {\"eof\":\"true\"}, got %s", EOFMessage)
	}
}

func TestWSConn_EchoBinaryAsText(t *testing.T) {
	url := newBackend(t, func(ws *websocket.Conn) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte("got "+string(data)))
		time.Sleep(100 * time.Millisecond)
	})

	conn, err := NewWSDialer(2*time.Second, nil).Dial(context.Background(), DialRequest{URL: url})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteBinary([]byte("audio")); err != nil {
		t.Fatalf("WriteBinary failed: %v", err)
	}

	ready, err := conn.Poll(2 * time.Second)
	if err != nil || !ready {
		t.Fatalf("Expected frame ready, got ready=%v err=%v", ready, err)
	}

	// Poll must not consume the frame
	ready, _ = conn.Poll(0)
	if !ready {
		t.Error("Expected pending frame to still be ready")
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Op != OpText {
		t.Errorf("Expected text frame, got %s", frame.Op)
	}
	if string(frame.Payload) != "got audio" {
		t.Errorf("Expected 'got audio', got %q", frame.Payload)
	}
}

func TestWSConn_PollTimeout(t *testing.T) {
	url := newBackend(t, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})

	conn, err := NewWSDialer(2*time.Second, nil).Dial(context.Background(), DialRequest{URL: url})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	ready, err := conn.Poll(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if ready {
		t.Error("Expected no frame")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Expected Poll to wait for the timeout")
	}
}

func TestWSConn_PingSurfacedAndPonged(t *testing.T) {
	pong := make(chan string, 1)
	url := newBackend(t, func(ws *websocket.Conn) {
		ws.SetPongHandler(func(appData string) error {
			pong <- appData
			return nil
		})
		_ = ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(time.Second))
		// Control frames are only processed while reading
		_, _, _ = ws.ReadMessage()
	})

	conn, err := NewWSDialer(2*time.Second, nil).Dial(context.Background(), DialRequest{URL: url})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Op != OpPing {
		t.Fatalf("Expected ping frame, got %s", frame.Op)
	}

	if err := conn.WritePong(frame.Payload); err != nil {
		t.Fatalf("WritePong failed: %v", err)
	}

	select {
	case got := <-pong:
		if got != "keepalive" {
			t.Errorf("Expected pong payload 'keepalive', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Error("Expected backend to receive pong")
	}
}

func TestWSConn_PeerCloseSurfacesError(t *testing.T) {
	url := newBackend(t, func(ws *websocket.Conn) {})

	conn, err := NewWSDialer(2*time.Second, nil).Dial(context.Background(), DialRequest{URL: url})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Poll(2 * time.Second); err == nil {
		t.Error("Expected error after peer closed")
	}
}

func TestWSConn_CloseTwice(t *testing.T) {
	url := newBackend(t, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})

	conn, err := NewWSDialer(2*time.Second, nil).Dial(context.Background(), DialRequest{URL: url})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	_ = conn.Close()
	if err := conn.Close(); err != ErrClosed {
		t.Errorf("Expected ErrClosed on second close, got %v", err)
	}
	if err := conn.WriteBinary([]byte{1}); err != ErrClosed {
		t.Errorf("Expected ErrClosed on write after close, got %v", err)
	}
}

func TestWSDialer_BreakerOpens(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("test-backend", 2, time.Minute)
	dialer := NewWSDialer(200*time.Millisecond, breaker)

	for i := 0; i < 2; i++ {
		if _, err := dialer.Dial(context.Background(), DialRequest{URL: "ws://127.0.0.1:1/none"}); err == nil {
			t.Fatal("Expected dial to unreachable address to fail")
		}
	}

	if breaker.GetState() != resilience.StateOpen {
		t.Errorf("Expected breaker open, got %s", breaker.GetState())
	}

	_, err := dialer.Dial(context.Background(), DialRequest{URL: "ws://127.0.0.1:1/none"})
	if err == nil || !strings.Contains(err.Error(), resilience.ErrCircuitOpen.Error()) {
		t.Errorf("Expected circuit open error, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	url := newBackend(t, func(ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})

	ok, err := Probe(context.Background(), NewWSDialer(2*time.Second, nil), url)
	if !ok {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
}
