package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/realtime"
	"github.com/Tyrowin/chatrelay/test/testhelpers"
)

type staticMembers map[string][]string

func (m staticMembers) ChatMembers(_ context.Context, chatID string) ([]string, error) {
	if chatID == "broken" {
		return nil, errors.New("store unavailable")
	}
	return m[chatID], nil
}

// TestStoredMembershipOverridesPayload routes by the store's member list.
func TestStoredMembershipOverridesPayload(t *testing.T) {
	srv := testhelpers.StartServer(t, staticMembers{"c1": {"u1", "u3"}}, nil)

	sender := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, sender, "u1")
	listed := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, listed, "u2")
	stored := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, stored, "u3")

	testhelpers.SendEvent(t, sender, realtime.EventNewMessage, map[string]any{
		"_id":    "m1",
		"sender": map[string]string{"_id": "u1"},
		"chat":   map[string]any{"_id": "c1", "users": []string{"u1", "u2"}},
	})

	testhelpers.WaitForEvent(t, stored, realtime.EventMessageReceived, wait)
	testhelpers.ExpectNoEvent(t, listed, realtime.EventMessageReceived, 300*time.Millisecond)
}

// TestMembershipLookupFailureFallsBackToPayload keeps relaying when the store
// errors.
func TestMembershipLookupFailureFallsBackToPayload(t *testing.T) {
	srv := testhelpers.StartServer(t, staticMembers{}, nil)

	sender := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, sender, "u1")
	recipient := testhelpers.MustConnect(t, srv.WSURL)
	testhelpers.Setup(t, recipient, "u2")

	testhelpers.SendEvent(t, sender, realtime.EventNewMessage, map[string]any{
		"_id":  "m1",
		"chat": map[string]any{"_id": "broken", "users": []string{"u1", "u2"}},
	})

	testhelpers.WaitForEvent(t, recipient, realtime.EventMessageReceived, wait)
}
