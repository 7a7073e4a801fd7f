package realtime

import (
	"encoding/json"
	"log/slog"
	"time"
)

// CallState is the lifecycle position of a call in one room.
type CallState int

const (
	CallIdle CallState = iota
	CallOffered
	CallAccepted
	CallActive
	CallRejected
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOffered:
		return "offered"
	case CallAccepted:
		return "accepted"
	case CallActive:
		return "active"
	case CallRejected:
		return "rejected"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a session.
func (s CallState) Terminal() bool {
	return s == CallRejected || s == CallEnded
}

// Call types carried in offers.
const (
	CallAudio = "audio"
	CallVideo = "video"
)

// CallSession is the coordinator's record of the signaling exchange in a
// room. It is observational: relays never consult it.
type CallSession struct {
	RoomID     string
	CallType   string
	Caller     json.RawMessage
	CallerConn ConnID
	CalleeConn ConnID
	State      CallState
	OfferedAt  time.Time
	UpdatedAt  time.Time
}

type incomingCallPayload struct {
	Caller   json.RawMessage `json:"caller,omitempty"`
	CallType string          `json:"callType"`
	Offer    json.RawMessage `json:"offer,omitempty"`
}

type callAcceptedPayload struct {
	Answer json.RawMessage `json:"answer,omitempty"`
}

type iceCandidatePayload struct {
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Calls relays call signaling between the members of a room. At most one
// session per room is tracked; a new offer replaces a live one.
type Calls struct {
	rooms    *Rooms
	out      *outbox
	logger   *slog.Logger
	sessions map[string]*CallSession
}

func newCalls(rooms *Rooms, out *outbox, logger *slog.Logger) *Calls {
	return &Calls{
		rooms:    rooms,
		out:      out,
		logger:   logger.With(slog.String("component", "calls")),
		sessions: make(map[string]*CallSession),
	}
}

// Session returns a copy of the live session in a room.
func (k *Calls) Session(room string) (CallSession, bool) {
	s, ok := k.sessions[room]
	if !ok {
		return CallSession{}, false
	}
	return *s, true
}

// State returns the call state of a room; rooms without a session are idle.
func (k *Calls) State(room string) CallState {
	if s, ok := k.sessions[room]; ok {
		return s.State
	}
	return CallIdle
}

// Offer relays incoming-call to the other members of the room. A session is
// only opened when the offer reached someone.
func (k *Calls) Offer(from *Conn, ev CallUser) int {
	if ev.CallType != CallAudio && ev.CallType != CallVideo {
		k.logger.Warn("Unrecognized call type", slog.String("roomID", ev.RoomID), slog.String("callType", ev.CallType))
	}

	n := k.relay(from, ev.RoomID, EventIncomingCall, incomingCallPayload{
		Caller:   ev.Caller,
		CallType: ev.CallType,
		Offer:    ev.Offer,
	})
	if n == 0 {
		k.logger.Debug("Offer reached nobody", slog.String("roomID", ev.RoomID))
		return 0
	}

	if prev, ok := k.sessions[ev.RoomID]; ok {
		k.logger.Warn("Offer replaces live call session",
			slog.String("roomID", ev.RoomID),
			slog.String("state", prev.State.String()),
			slog.String("previousCaller", string(prev.CallerConn)))
	}
	now := time.Now()
	k.sessions[ev.RoomID] = &CallSession{
		RoomID:     ev.RoomID,
		CallType:   ev.CallType,
		Caller:     ev.Caller,
		CallerConn: from.ID,
		State:      CallOffered,
		OfferedAt:  now,
		UpdatedAt:  now,
	}
	return n
}

// Answer relays call-accepted with the callee's description.
func (k *Calls) Answer(from *Conn, ev CallAnswer) int {
	k.advance(ev.RoomID, from, CallActive, CallOffered, CallAccepted)
	return k.relay(from, ev.RoomID, EventCallAccepted, callAcceptedPayload{Answer: ev.Answer})
}

// Accept relays a bare call-accepted.
func (k *Calls) Accept(from *Conn, ev AcceptCall) int {
	k.advance(ev.RoomID, from, CallAccepted, CallOffered)
	return k.relay(from, ev.RoomID, EventCallAccepted, nil)
}

// Reject relays call-rejected and closes the session.
func (k *Calls) Reject(from *Conn, ev RejectCall) int {
	k.advance(ev.RoomID, from, CallRejected, CallOffered, CallAccepted)
	return k.relay(from, ev.RoomID, EventCallRejected, nil)
}

// Candidate relays an ICE candidate. Ordering against the answer is left to
// the receiving peer.
func (k *Calls) Candidate(from *Conn, ev IceCandidate) int {
	return k.relay(from, ev.RoomID, EventIceCandidate, iceCandidatePayload{Candidate: ev.Candidate})
}

// Disconnected ends the sessions a departing connection leaves without a
// peer. rooms are the rooms it was joined to and emptied those it left empty.
func (k *Calls) Disconnected(c *Conn, rooms, emptied []string) {
	empty := make(map[string]bool, len(emptied))
	for _, room := range emptied {
		empty[room] = true
	}
	for _, room := range rooms {
		k.RoomLeft(c, room, empty[room])
	}
	for room, s := range k.sessions {
		if s.CallerConn == c.ID || s.CalleeConn == c.ID {
			k.end(room, "party disconnected")
		}
	}
}

// RoomLeft ends the session of a room that has emptied, that one of its
// parties left, or where only the caller remains.
func (k *Calls) RoomLeft(c *Conn, room string, empty bool) {
	s, ok := k.sessions[room]
	if !ok {
		return
	}
	switch {
	case empty:
		k.end(room, "room empty")
	case s.CallerConn == c.ID || s.CalleeConn == c.ID:
		k.end(room, "party left")
	case !k.hasPeer(room, s.CallerConn):
		k.end(room, "no peer left")
	}
}

// hasPeer reports whether anyone besides the caller is still in the room.
func (k *Calls) hasPeer(room string, caller ConnID) bool {
	for _, c := range k.rooms.Members(room) {
		if c.ID != caller {
			return true
		}
	}
	return false
}

// Reset drops every session without signaling anyone.
func (k *Calls) Reset() {
	clear(k.sessions)
}

// advance moves the room's session to next if it is in one of from. The
// callee is recorded on the first transition made by a non-caller.
func (k *Calls) advance(room string, by *Conn, next CallState, from ...CallState) {
	s, ok := k.sessions[room]
	if !ok {
		k.logger.Debug("Signaling without a tracked offer",
			slog.String("roomID", room), slog.String("next", next.String()))
		return
	}
	allowed := false
	for _, st := range from {
		if s.State == st {
			allowed = true
			break
		}
	}
	if !allowed {
		k.logger.Debug("Ignoring call transition",
			slog.String("roomID", room),
			slog.String("state", s.State.String()),
			slog.String("next", next.String()))
		return
	}

	if s.CalleeConn == "" && by.ID != s.CallerConn {
		s.CalleeConn = by.ID
	}
	s.State = next
	s.UpdatedAt = time.Now()
	k.logger.Debug("Call transition", slog.String("roomID", room), slog.String("state", next.String()))

	if next.Terminal() {
		delete(k.sessions, room)
	}
}

func (k *Calls) end(room, reason string) {
	s := k.sessions[room]
	s.State = CallEnded
	delete(k.sessions, room)
	k.logger.Debug("Call ended", slog.String("roomID", room), slog.String("reason", reason))
}

// relay sends event to every member of room except the sender. An empty
// room drops it silently.
func (k *Calls) relay(from *Conn, room, event string, payload any) int {
	targets := k.rooms.Members(room)
	if len(targets) == 0 {
		return 0
	}
	frame, err := Encode(event, payload)
	if err != nil {
		k.logger.Error("Failed to encode signaling", slog.String("event", event), slog.Any("error", err))
		return 0
	}
	return k.out.broadcast(targets, frame, func(c *Conn) bool { return c.ID == from.ID })
}
