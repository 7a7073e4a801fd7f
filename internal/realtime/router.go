// Package realtime holds the connection registry, room membership, presence
// and call signaling state of the relay, and routes inbound events against
// it. Nothing here is safe for concurrent use: a single loop owns a Router
// and feeds it one event at a time.
package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Router dispatches inbound events to rooms and users.
type Router struct {
	registry *Registry
	rooms    *Rooms
	presence *Presence
	calls    *Calls
	out      *outbox
	logger   *slog.Logger
}

// Stats is a point-in-time summary of router state.
type Stats struct {
	Connections  int    `json:"connections"`
	OnlineUsers  int    `json:"onlineUsers"`
	Rooms        int    `json:"rooms"`
	CallSessions int    `json:"callSessions"`
	Delivered    uint64 `json:"delivered"`
	Dropped      uint64 `json:"dropped"`
}

type connectedPayload struct {
	UserID      string   `json:"userId"`
	OnlineUsers []string `json:"onlineUsers"`
}

type messageReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type addedToGroupPayload struct {
	Chat    json.RawMessage `json:"chat,omitempty"`
	AddedBy json.RawMessage `json:"addedBy,omitempty"`
}

// NewRouter builds a router with empty state.
func NewRouter(logger *slog.Logger) *Router {
	logger = logger.With(slog.String("component", "router"))
	out := &outbox{logger: logger}
	registry := NewRegistry()
	rooms := NewRooms()
	return &Router{
		registry: registry,
		rooms:    rooms,
		presence: newPresence(registry, out, logger),
		calls:    newCalls(rooms, out, logger),
		out:      out,
		logger:   logger,
	}
}

// Connect registers a new connection with no identity.
func (r *Router) Connect(id ConnID, sink Sink) {
	r.registry.Add(id, sink)
	r.logger.Debug("Connection added", slog.String("connID", string(id)), slog.Int("connections", r.registry.Len()))
}

// Disconnect tears down a connection: rooms, call sessions and, if it was the
// user's last connection, presence. Calling it again for the same id is a no-op.
func (r *Router) Disconnect(id ConnID) {
	c, last := r.registry.Remove(id)
	if c == nil {
		return
	}
	rooms := c.Rooms()
	emptied := r.rooms.LeaveAll(c)
	r.calls.Disconnected(c, rooms, emptied)
	if last {
		r.presence.Offline(c.UserID)
	}
	r.logger.Debug("Connection removed",
		slog.String("connID", string(id)),
		slog.String("userID", c.UserID),
		slog.Duration("connectedFor", time.Since(c.ConnectedAt)),
		slog.Int("connections", r.registry.Len()))
}

// DisconnectAll removes every connection without announcing presence and
// returns how many were removed.
func (r *Router) DisconnectAll() int {
	conns := r.registry.All()
	for _, c := range conns {
		r.registry.Remove(c.ID)
		r.rooms.LeaveAll(c)
	}
	r.calls.Reset()
	r.logger.Debug("All connections removed", slog.Int("count", len(conns)))
	return len(conns)
}

// HandleFrame parses a raw frame and dispatches it. Parse failures are
// logged and dropped.
func (r *Router) HandleFrame(id ConnID, raw []byte) {
	ev, err := Parse(raw)
	if err != nil {
		r.logger.Warn("Dropping inbound frame", slog.String("connID", string(id)), slog.Any("error", err))
		return
	}
	r.Dispatch(id, ev)
}

// Dispatch applies one inbound event from connection id.
func (r *Router) Dispatch(id ConnID, ev Inbound) {
	c, ok := r.registry.Get(id)
	if !ok {
		r.logger.Warn("Event from unknown connection", slog.String("connID", string(id)), slog.String("event", ev.Name()))
		return
	}
	if _, setup := ev.(Setup); !setup && !c.Bound() {
		r.logger.Debug("Event before setup ignored", slog.String("connID", string(id)), slog.String("event", ev.Name()))
		return
	}

	switch ev := ev.(type) {
	case Setup:
		r.setup(c, ev)
	case JoinChat:
		r.rooms.Join(c, ev.RoomID)
		r.logger.Debug("Joined room", slog.String("connID", string(c.ID)), slog.String("roomID", ev.RoomID))
	case LeaveChat:
		empty := r.rooms.Leave(c, ev.RoomID)
		r.calls.RoomLeft(c, ev.RoomID, empty)
	case Typing:
		r.toRoom(c, ev.RoomID, EventTyping, nil)
	case StopTyping:
		r.toRoom(c, ev.RoomID, EventStopTyping, nil)
	case NewMessage:
		r.newMessage(c, ev)
	case MarkRead:
		r.toRoom(c, ev.ChatID, EventMessageRead, messageReadPayload{MessageID: ev.MessageID, UserID: c.UserID})
	case CallUser:
		r.calls.Offer(c, ev)
	case CallAnswer:
		r.calls.Answer(c, ev)
	case AcceptCall:
		r.calls.Accept(c, ev)
	case RejectCall:
		r.calls.Reject(c, ev)
	case IceCandidate:
		r.calls.Candidate(c, ev)
	case AddedToGroup:
		r.addedToGroup(c.ID, ev)
	case PresenceClaim:
		r.logger.Debug("Ignoring client presence claim",
			slog.String("connID", string(c.ID)), slog.String("event", ev.Name()), slog.String("userID", ev.UserID))
	default:
		r.logger.Error("Unhandled event type", slog.String("event", ev.Name()))
	}
}

// NotifyAddedToGroup delivers added-to-group to every connection of the
// added user. It is the entry point for server-side callers.
func (r *Router) NotifyAddedToGroup(ev AddedToGroup) int {
	return r.addedToGroup("", ev)
}

// OnlineUsers returns the ids of users with at least one live connection.
func (r *Router) OnlineUsers() []string {
	return r.registry.OnlineUsers()
}

// Online reports whether a user has a live connection.
func (r *Router) Online(userID string) bool {
	return r.registry.Online(userID)
}

// CallSession returns the tracked call session of a room.
func (r *Router) CallSession(room string) (CallSession, bool) {
	return r.calls.Session(room)
}

// Stats summarizes the router state.
func (r *Router) Stats() Stats {
	return Stats{
		Connections:  r.registry.Len(),
		OnlineUsers:  len(r.registry.byUser),
		Rooms:        r.rooms.Len(),
		CallSessions: len(r.calls.sessions),
		Delivered:    r.out.delivered,
		Dropped:      r.out.dropped,
	}
}

func (r *Router) setup(c *Conn, ev Setup) {
	first, err := r.registry.Bind(c.ID, ev.UserID)
	if err != nil {
		if !errors.Is(err, ErrAlreadyBound) || c.UserID != ev.UserID {
			r.logger.Warn("Setup rejected",
				slog.String("connID", string(c.ID)),
				slog.String("boundUser", c.UserID),
				slog.String("requestedUser", ev.UserID),
				slog.Any("error", err))
			return
		}
	}

	frame, err := Encode(EventConnected, connectedPayload{UserID: c.UserID, OnlineUsers: r.registry.OnlineUsers()})
	if err != nil {
		r.logger.Error("Failed to encode connected ack", slog.Any("error", err))
	} else {
		r.out.send(c, frame)
	}

	if first {
		r.presence.Online(c.UserID, c.ID)
	}
}

// toRoom relays an event to the other members of a room.
func (r *Router) toRoom(from *Conn, room, event string, payload any) int {
	targets := r.rooms.Members(room)
	if len(targets) == 0 {
		return 0
	}
	frame, err := Encode(event, payload)
	if err != nil {
		r.logger.Error("Failed to encode relay", slog.String("event", event), slog.Any("error", err))
		return 0
	}
	return r.out.broadcast(targets, frame, func(c *Conn) bool { return c.ID == from.ID })
}

// newMessage notifies every chat user except the sender, whether or not they
// joined the chat's room.
func (r *Router) newMessage(from *Conn, ev NewMessage) {
	if ev.Recipients == nil {
		r.logger.Warn("Message without chat users; not relayed",
			slog.String("connID", string(from.ID)), slog.String("chatID", ev.ChatID))
		return
	}
	frame, err := Encode(EventMessageReceived, ev.Message)
	if err != nil {
		r.logger.Warn("Failed to encode message relay", slog.String("chatID", ev.ChatID), slog.Any("error", err))
		return
	}

	sender := ev.SenderID
	if sender == "" {
		sender = from.UserID
	}
	seen := make(map[string]struct{}, len(ev.Recipients))
	n := 0
	for _, userID := range ev.Recipients {
		if userID == sender {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		n += r.out.broadcast(r.registry.UserConns(userID), frame, func(c *Conn) bool { return c.ID == from.ID })
	}
	r.logger.Debug("Message relayed", slog.String("chatID", ev.ChatID), slog.Int("delivered", n))
}

func (r *Router) addedToGroup(from ConnID, ev AddedToGroup) int {
	frame, err := Encode(EventAddedToGroup, addedToGroupPayload{Chat: ev.Chat, AddedBy: ev.AddedBy})
	if err != nil {
		r.logger.Warn("Failed to encode group notification", slog.Any("error", err))
		return 0
	}
	return r.out.broadcast(r.registry.UserConns(ev.UserID), frame, func(c *Conn) bool { return c.ID == from })
}
