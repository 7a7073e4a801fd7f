package realtime

import "log/slog"

// Presence announces online/offline transitions to every other connection.
// Only transitions are announced: a second tab for an online user is silent,
// and closing one of two tabs does not report the user offline.
type Presence struct {
	registry *Registry
	out      *outbox
	logger   *slog.Logger
}

func newPresence(registry *Registry, out *outbox, logger *slog.Logger) *Presence {
	return &Presence{
		registry: registry,
		out:      out,
		logger:   logger.With(slog.String("component", "presence")),
	}
}

// Online broadcasts user-online for userID to everyone except the
// connection that just bound it.
func (p *Presence) Online(userID string, except ConnID) {
	frame, err := Encode(EventUserOnline, userID)
	if err != nil {
		p.logger.Error("Failed to encode presence", slog.Any("error", err))
		return
	}
	n := p.out.broadcast(p.registry.All(), frame, func(c *Conn) bool { return c.ID == except })
	p.logger.Debug("User online", slog.String("userID", userID), slog.Int("notified", n))
}

// Offline broadcasts user-offline for userID to all remaining connections.
func (p *Presence) Offline(userID string) {
	frame, err := Encode(EventUserOffline, userID)
	if err != nil {
		p.logger.Error("Failed to encode presence", slog.Any("error", err))
		return
	}
	n := p.out.broadcast(p.registry.All(), frame, nil)
	p.logger.Debug("User offline", slog.String("userID", userID), slog.Int("notified", n))
}
