package liveness

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/scoutkit/transport"
)

func keepaliveServer(t *testing.T, fn func(*websocket.Conn)) string {
	t.Helper()
	upgrader := transport.NewWebSocketUpgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/keepalive"
}

// collect reads transitions until the channel closes.
func collect(t *testing.T, h *Handle) []State {
	t.Helper()
	var got []State
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-h.States():
			if !ok {
				return got
			}
			got = append(got, s)
		case <-timeout:
			t.Fatalf("states channel not closed; saw %v", got)
		}
	}
}

func waitFor(t *testing.T, h *Handle, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", h.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Disconnected: "disconnected",
		Connected:    "connected",
		Error:        "error",
		Closed:       "closed",
		State(99):    "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestNewMonitor_DefaultURL(t *testing.T) {
	if m := NewMonitor(Config{}); m.URL() != DefaultURL {
		t.Errorf("URL = %q, want %q", m.URL(), DefaultURL)
	}
}

func TestHandle_ConnectThenClose(t *testing.T) {
	serverSaw := make(chan error, 1)
	url := keepaliveServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_, _, err := conn.ReadMessage()
		serverSaw <- err
	})

	h := NewMonitor(Config{URL: url}).Connect(context.Background())
	if h.State() == Closed {
		t.Fatal("new handle should not start closed")
	}
	waitFor(t, h, Connected)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.State() != Closed {
		t.Errorf("state = %v, want closed", h.State())
	}

	if got := collect(t, h); !equalStates(got, []State{Connected, Closed}) {
		t.Errorf("transitions = %v", got)
	}

	select {
	case err := <-serverSaw:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("server saw %v, want normal closure", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw close")
	}
}

func TestHandle_DialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	h := NewMonitor(Config{URL: "ws://" + addr + "/keepalive"}).Connect(context.Background())
	waitFor(t, h, Error)
	if h.Err() == nil {
		t.Error("expected dial error")
	}

	h.Close()
	if got := collect(t, h); !equalStates(got, []State{Error, Closed}) {
		t.Errorf("transitions = %v", got)
	}
}

func TestHandle_ServerDrop(t *testing.T) {
	url := keepaliveServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})

	h := NewMonitor(Config{URL: url}).Connect(context.Background())
	waitFor(t, h, Error)
	h.Close()

	if got := collect(t, h); !equalStates(got, []State{Connected, Error, Closed}) {
		t.Errorf("transitions = %v", got)
	}
}

func TestHandle_ServerNormalClose(t *testing.T) {
	url := keepaliveServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		conn.ReadMessage()
	})

	h := NewMonitor(Config{URL: url}).Connect(context.Background())
	if got := collect(t, h); !equalStates(got, []State{Connected, Closed}) {
		t.Errorf("transitions = %v", got)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close after peer close: %v", err)
	}
}

func TestHandle_CloseBeforeConnect(t *testing.T) {
	url := keepaliveServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.ReadMessage()
	})

	h := NewMonitor(Config{URL: url}).Connect(context.Background())
	h.Close()

	got := collect(t, h)
	if len(got) == 0 || got[len(got)-1] != Closed {
		t.Errorf("transitions = %v, want to end in closed", got)
	}
	select {
	case <-h.Done():
	default:
		t.Error("background goroutine still running after Close")
	}
}

func TestHandle_ContextCancel(t *testing.T) {
	url := keepaliveServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := NewMonitor(Config{URL: url}).Connect(ctx)
	waitFor(t, h, Connected)

	cancel()
	waitFor(t, h, Closed)
}
