package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/chatrelay/internal/realtime"
)

// MembershipResolver returns the canonical user ids of a chat.
type MembershipResolver interface {
	ChatMembers(ctx context.Context, chatID string) ([]string, error)
}

// membershipLookup overrides the recipients a client supplied with a message.
// It runs in the read pump so the hub never waits on the store.
type membershipLookup struct {
	resolver MembershipResolver
	timeout  time.Duration
	logger   *slog.Logger
}

func newMembershipLookup(resolver MembershipResolver, timeout time.Duration, logger *slog.Logger) *membershipLookup {
	if resolver == nil {
		return nil
	}
	return &membershipLookup{
		resolver: resolver,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "membership")),
	}
}

// apply replaces msg.Recipients with the stored member list. Lookup failures
// and unknown chats keep the payload's list.
func (m *membershipLookup) apply(ctx context.Context, msg realtime.NewMessage) realtime.NewMessage {
	if msg.ChatID == "" {
		return msg
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	members, err := m.resolver.ChatMembers(ctx, msg.ChatID)
	if err != nil {
		m.logger.Warn("Membership lookup failed, using message payload",
			slog.String("chatID", msg.ChatID), slog.Any("error", err))
		return msg
	}
	if len(members) == 0 {
		m.logger.Debug("Chat has no stored members, using message payload", slog.String("chatID", msg.ChatID))
		return msg
	}

	msg.Recipients = members
	return msg
}
