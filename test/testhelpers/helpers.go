// Package testhelpers provides shared utilities for the chat relay's
// end-to-end tests: an in-process server, WebSocket dial helpers and
// envelope send/receive assertions.
package testhelpers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/realtime"
	"github.com/Tyrowin/chatrelay/internal/server"
)

// TestOrigin is allowed by StartServer's default configuration.
const TestOrigin = "http://localhost:3000"

// TestServer is a running relay with its own hub.
type TestServer struct {
	URL   string
	WSURL string
	Hub   *server.Hub
	HTTP  *httptest.Server
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartServer starts a relay on a random port. customize may adjust the
// configuration before it is applied. The server and hub stop at test cleanup.
func StartServer(t *testing.T, resolver server.MembershipResolver, customize func(*server.Config)) *TestServer {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.Server.AllowedOrigins = []string{TestOrigin}
	if customize != nil {
		customize(&cfg)
	}
	cfg = server.Sanitize(cfg)

	logger := DiscardLogger()
	hub := server.NewHub(logger)
	server.StartHub(hub)

	handler := server.NewHandler(hub, cfg, resolver, logger)
	ts := httptest.NewServer(server.NewRouter(handler))

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return &TestServer{
		URL:   ts.URL,
		WSURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		Hub:   hub,
		HTTP:  ts,
	}
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials with TestOrigin and closes the connection at cleanup.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one envelope. A nil payload is omitted.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := realtime.Encode(event, payload)
	if err != nil {
		t.Fatalf("Failed to encode %q: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send %q: %v", event, err)
	}
}

// ReadEvent reads the next envelope or fails after timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (realtime.Envelope, error) {
	var env realtime.Envelope
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return env, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(data, &env)
	return env, err
}

// WaitForEvent reads until an envelope named event arrives, skipping others.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) realtime.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %q; saw %v", event, seen)
		}
		env, err := ReadEvent(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %q (saw %v): %v", event, seen, err)
		}
		if env.Event == event {
			return env
		}
		seen = append(seen, env.Event)
	}
}

// CollectUntil returns every envelope read up to and including the first one
// named event.
func CollectUntil(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) []realtime.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []realtime.Envelope
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %q after %d events", event, len(seen))
		}
		env, err := ReadEvent(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %q: %v", event, err)
		}
		seen = append(seen, env)
		if env.Event == event {
			return seen
		}
	}
}

// ExpectNoEvent fails if an envelope named event arrives within timeout.
// Other events are consumed. A timed out read leaves the connection unusable,
// so this must be the last read on conn.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		env, err := ReadEvent(conn, remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected read error while expecting no %q: %v", event, err)
		}
		if env.Event == event {
			t.Fatalf("Unexpected %q with payload %s", event, env.Payload)
		}
	}
}

// Setup identifies conn as userID and waits for the connected ack.
func Setup(t *testing.T, conn *websocket.Conn, userID string) realtime.Envelope {
	t.Helper()
	SendEvent(t, conn, realtime.EventSetup, map[string]string{"_id": userID})
	return WaitForEvent(t, conn, realtime.EventConnected, 2*time.Second)
}

// Join subscribes conn to room and returns once the hub has processed it.
// Events from one connection are handled in order, so a second setup ack
// marks the join as done.
func Join(t *testing.T, conn *websocket.Conn, userID, room string) {
	t.Helper()
	SendEvent(t, conn, realtime.EventJoinChat, room)
	Setup(t, conn, userID)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest executes a request with a 5 second timeout.
func MakeRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// AssertStatusCode checks the response status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks the Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	if contentType := resp.Header.Get("Content-Type"); contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
