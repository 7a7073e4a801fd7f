package integration

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/realtime"
	"github.com/Tyrowin/chatrelay/test/testhelpers"
)

// TestMultiTabPresence keeps a user online while any of their tabs is open.
func TestMultiTabPresence(t *testing.T) {
	srv := testhelpers.StartServer(t, nil, nil)

	watcher := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, watcher, "watcher")

	tab1 := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, tab1, "u1")
	testhelpers.WaitForEvent(t, watcher, realtime.EventUserOnline, wait)

	tab2 := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, tab2, "u1")

	if err := testhelpers.CloseWebSocket(tab1); err != nil {
		t.Fatalf("close tab1: %v", err)
	}
	waitForConnections(t, srv, 2)
	waitForOnline(t, srv, "u1", true)

	// a fresh user marks the point in watcher's stream after tab1 left
	marker := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, marker, "marker")
	for _, env := range testhelpers.CollectUntil(t, watcher, realtime.EventUserOnline, wait) {
		if env.Event == realtime.EventUserOffline {
			t.Fatalf("u1 went offline while tab2 was open: %s", env.Payload)
		}
	}

	if err := testhelpers.CloseWebSocket(tab2); err != nil {
		t.Fatalf("close tab2: %v", err)
	}
	offline := testhelpers.WaitForEvent(t, watcher, realtime.EventUserOffline, wait)
	if string(offline.Payload) != `"u1"` {
		t.Fatalf("unexpected user-offline %s", offline.Payload)
	}
	waitForOnline(t, srv, "u1", false)
}

// TestConcurrentConnectionsSettlePresence opens and closes many sessions in
// parallel and checks that presence ends up empty.
func TestConcurrentConnectionsSettlePresence(t *testing.T) {
	srv := testhelpers.StartServer(t, nil, nil)

	const users, tabs = 5, 3
	var wg sync.WaitGroup
	errs := make(chan error, users*tabs)

	for u := 0; u < users; u++ {
		for tab := 0; tab < tabs; tab++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				conn, _, err := testhelpers.ConnectWebSocket(srv.WSURL, testhelpers.TestOrigin)
				if err != nil {
					errs <- err
					return
				}
				frame, _ := realtime.Encode(realtime.EventSetup, userID)
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					errs <- err
				}
				time.Sleep(20 * time.Millisecond)
				_ = testhelpers.CloseWebSocket(conn)
			}(fmt.Sprintf("user-%d", u))
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("client error: %v", err)
	}

	deadline := time.Now().Add(wait)
	for {
		stats, err := srv.Hub.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.Connections == 0 && stats.OnlineUsers == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("presence did not settle: %+v", stats)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestTypingFanOutAcrossRoom checks that every other member hears typing.
func TestTypingFanOutAcrossRoom(t *testing.T) {
	srv := testhelpers.StartServer(t, nil, nil)

	const members = 4
	conns := make([]string, members)
	for i := range conns {
		conns[i] = fmt.Sprintf("u%d", i)
	}

	sockets := make(map[string]*websocket.Conn, members)
	for _, id := range conns {
		c := testhelpers.MustConnect(t, srv.WSURL)
		testhelpers.Setup(t, c, id)
		testhelpers.Join(t, c, id, "R1")
		sockets[id] = c
	}

	testhelpers.SendEvent(t, sockets["u0"], realtime.EventStopTyping, "R1")
	for _, id := range conns[1:] {
		testhelpers.WaitForEvent(t, sockets[id], realtime.EventStopTyping, wait)
	}
	testhelpers.ExpectNoEvent(t, sockets["u0"], realtime.EventStopTyping, 200*time.Millisecond)
}

func waitForOnline(t *testing.T, srv *testhelpers.TestServer, userID string, want bool) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		users, err := srv.Hub.OnlineUsers(context.Background())
		if err != nil {
			t.Fatalf("OnlineUsers() error = %v", err)
		}
		if slices.Contains(users, userID) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("online(%s) never became %v; online=%v", userID, want, users)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitForConnections(t *testing.T, srv *testhelpers.TestServer, want int) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		stats, err := srv.Hub.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.Connections == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, have %d", want, stats.Connections)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
