package integration

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/realtime"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/test/testhelpers"
)

// TestOriginValidation covers the upgrade allow-list.
func TestOriginValidation(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{"allowed origin", []string{testhelpers.TestOrigin}, testhelpers.TestOrigin, true},
		{"case insensitive", []string{testhelpers.TestOrigin}, "HTTP://LOCALHOST:3000", true},
		{"missing origin", []string{testhelpers.TestOrigin}, "", false},
		{"other origin", []string{testhelpers.TestOrigin}, "http://evil.example", false},
		{"different port", []string{testhelpers.TestOrigin}, "http://localhost:3001", false},
		{"wildcard", []string{"*"}, "http://anything.example", true},
		{"env style list", []string{"http://a.example, http://b.example"}, "http://b.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testhelpers.StartServer(t, nil, func(cfg *server.Config) {
				cfg.Server.AllowedOrigins = tt.allowed
			})

			conn, resp, err := testhelpers.ConnectWebSocket(srv.WSURL, tt.origin)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("expected upgrade, got %v", err)
				}
				_ = conn.Close()
				return
			}
			if err == nil {
				_ = conn.Close()
				t.Fatal("expected the upgrade to be rejected")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("expected 403, got %v", resp)
			}
		})
	}
}

// TestMessageSizeLimit closes connections that send oversized frames.
func TestMessageSizeLimit(t *testing.T) {
	srv := testhelpers.StartServer(t, nil, func(cfg *server.Config) {
		cfg.Server.MaxMessageSize = 256
	})

	conn := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, conn, "u1")

	big := map[string]string{"_id": "u1", "pad": strings.Repeat("x", 512)}
	testhelpers.SendEvent(t, conn, realtime.EventSetup, big)

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("expected the server to close the connection")
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("unexpected close code: %v", err)
		}
		return
	}
}

// TestRateLimitDropsBurstExcess sends more frames than the bucket holds.
func TestRateLimitDropsBurstExcess(t *testing.T) {
	srv := testhelpers.StartServer(t, nil, func(cfg *server.Config) {
		cfg.Server.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	})

	conn := testhelpers.MustConnect(t, srv.WSURL)
	for i := 0; i < 10; i++ {
		testhelpers.SendEvent(t, conn, realtime.EventSetup, "u1")
	}

	acks := 0
	for {
		env, err := testhelpers.ReadEvent(conn, 300*time.Millisecond)
		if err != nil {
			break
		}
		if env.Event == realtime.EventConnected {
			acks++
		}
	}
	if acks != 3 {
		t.Fatalf("connected acks = %d, want 3", acks)
	}
}
