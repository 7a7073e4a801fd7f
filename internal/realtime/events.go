package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Inbound event names as clients send them.
const (
	EventSetup        = "setup"
	EventJoinChat     = "join chat"
	EventLeaveChat    = "leave chat"
	EventTyping       = "typing"
	EventStopTyping   = "stop typing"
	EventNewMessage   = "new message"
	EventMarkRead     = "mark-read"
	EventCallUser     = "call-user"
	EventCallAnswer   = "call-answer"
	EventAcceptCall   = "accept-call"
	EventRejectCall   = "reject-call"
	EventIceCandidate = "ice-candidate"
	EventAddedToGroup = "added-to-group"
	EventUserOnline   = "user-online"
	EventUserOffline  = "user-offline"
)

// Outbound event names that only the server emits.
const (
	EventConnected       = "connected"
	EventMessageReceived = "message recieved"
	EventMessageRead     = "message-read"
	EventIncomingCall    = "incoming-call"
	EventCallAccepted    = "call-accepted"
	EventCallRejected    = "call-rejected"
)

var (
	// ErrUnknownEvent is returned for an event name outside the vocabulary.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedPayload is returned when a payload lacks a required field.
	ErrMalformedPayload = errors.New("malformed payload")
)

// aliases maps hyphenated spellings onto the canonical event names.
var aliases = map[string]string{
	"join-chat":   EventJoinChat,
	"leave-chat":  EventLeaveChat,
	"stop-typing": EventStopTyping,
	"new-message": EventNewMessage,
}

// Envelope is the JSON frame exchanged over a connection in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of events a connection may send. Every
// implementation lives in this file; Router.Dispatch switches over all of them.
type Inbound interface {
	Name() string
}

// Setup announces the identity of a connection.
type Setup struct {
	UserID string
}

// JoinChat subscribes the connection to a room.
type JoinChat struct {
	RoomID string
}

// LeaveChat unsubscribes the connection from a room.
type LeaveChat struct {
	RoomID string
}

// Typing signals that the sender started typing in a room.
type Typing struct {
	RoomID string
}

// StopTyping signals that the sender stopped typing in a room.
type StopTyping struct {
	RoomID string
}

// NewMessage carries an already persisted message to be relayed verbatim.
// Recipients is nil when the message did not name its chat users.
type NewMessage struct {
	Message    json.RawMessage
	ChatID     string
	SenderID   string
	Recipients []string
}

// MarkRead is a read receipt for one message in a room.
type MarkRead struct {
	MessageID string
	ChatID    string
}

// CallUser is a call offer relayed into a room.
type CallUser struct {
	RoomID   string
	CallType string
	Offer    json.RawMessage
	Caller   json.RawMessage
}

// CallAnswer carries the callee's session description.
type CallAnswer struct {
	RoomID string
	Answer json.RawMessage
}

// AcceptCall accepts a call without a session description.
type AcceptCall struct {
	RoomID string
}

// RejectCall declines a call.
type RejectCall struct {
	RoomID string
}

// IceCandidate carries one network candidate for either party.
type IceCandidate struct {
	RoomID    string
	Candidate json.RawMessage
}

// AddedToGroup tells a user they were added to a group chat.
type AddedToGroup struct {
	UserID  string
	Chat    json.RawMessage
	AddedBy json.RawMessage
}

// PresenceClaim is a client-side online/offline announcement. Presence is
// derived from connections, so these are accepted and ignored.
type PresenceClaim struct {
	Online bool
	UserID string
}

func (Setup) Name() string        { return EventSetup }
func (JoinChat) Name() string     { return EventJoinChat }
func (LeaveChat) Name() string    { return EventLeaveChat }
func (Typing) Name() string       { return EventTyping }
func (StopTyping) Name() string   { return EventStopTyping }
func (NewMessage) Name() string   { return EventNewMessage }
func (MarkRead) Name() string     { return EventMarkRead }
func (CallUser) Name() string     { return EventCallUser }
func (CallAnswer) Name() string   { return EventCallAnswer }
func (AcceptCall) Name() string   { return EventAcceptCall }
func (RejectCall) Name() string   { return EventRejectCall }
func (IceCandidate) Name() string { return EventIceCandidate }
func (AddedToGroup) Name() string { return EventAddedToGroup }

func (p PresenceClaim) Name() string {
	if p.Online {
		return EventUserOnline
	}
	return EventUserOffline
}

// CanonicalName resolves aliases and surrounding whitespace of an event name.
func CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Parse decodes a raw frame into its typed event.
func Parse(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return Decode(env)
}

// Decode converts an envelope into its typed event.
func Decode(env Envelope) (Inbound, error) {
	payload := gjson.ParseBytes(env.Payload)

	switch name := CanonicalName(env.Event); name {
	case EventSetup:
		id := identity(payload)
		if id == "" {
			return nil, fmt.Errorf("%s: missing user id: %w", name, ErrMalformedPayload)
		}
		return Setup{UserID: id}, nil

	case EventJoinChat, EventLeaveChat, EventTyping, EventStopTyping:
		room := roomID(payload)
		if room == "" {
			return nil, fmt.Errorf("%s: missing room id: %w", name, ErrMalformedPayload)
		}
		switch name {
		case EventJoinChat:
			return JoinChat{RoomID: room}, nil
		case EventLeaveChat:
			return LeaveChat{RoomID: room}, nil
		case EventTyping:
			return Typing{RoomID: room}, nil
		default:
			return StopTyping{RoomID: room}, nil
		}

	case EventNewMessage:
		return decodeNewMessage(env.Payload, payload)

	case EventMarkRead:
		ev := MarkRead{
			MessageID: payload.Get("messageId").String(),
			ChatID:    roomID(payload),
		}
		if ev.MessageID == "" || ev.ChatID == "" {
			return nil, fmt.Errorf("%s: missing messageId or chatId: %w", name, ErrMalformedPayload)
		}
		return ev, nil

	case EventCallUser:
		ev := CallUser{
			RoomID:   roomID(payload),
			CallType: payload.Get("callType").String(),
			Offer:    rawField(payload, "offer"),
			Caller:   rawField(payload, "caller"),
		}
		if ev.RoomID == "" {
			return nil, fmt.Errorf("%s: missing chatId: %w", name, ErrMalformedPayload)
		}
		return ev, nil

	case EventCallAnswer:
		ev := CallAnswer{RoomID: roomID(payload), Answer: rawField(payload, "answer")}
		if ev.RoomID == "" {
			return nil, fmt.Errorf("%s: missing chatId: %w", name, ErrMalformedPayload)
		}
		return ev, nil

	case EventAcceptCall, EventRejectCall:
		room := roomID(payload)
		if room == "" {
			return nil, fmt.Errorf("%s: missing chatId: %w", name, ErrMalformedPayload)
		}
		if name == EventAcceptCall {
			return AcceptCall{RoomID: room}, nil
		}
		return RejectCall{RoomID: room}, nil

	case EventIceCandidate:
		ev := IceCandidate{RoomID: roomID(payload), Candidate: rawField(payload, "candidate")}
		if ev.RoomID == "" {
			return nil, fmt.Errorf("%s: missing chatId: %w", name, ErrMalformedPayload)
		}
		return ev, nil

	case EventAddedToGroup:
		ev := AddedToGroup{
			UserID:  firstString(payload, "userId", "user._id", "user.id"),
			Chat:    rawField(payload, "chat"),
			AddedBy: rawField(payload, "addedBy"),
		}
		if ev.UserID == "" {
			return nil, fmt.Errorf("%s: missing userId: %w", name, ErrMalformedPayload)
		}
		return ev, nil

	case EventUserOnline, EventUserOffline:
		return PresenceClaim{Online: name == EventUserOnline, UserID: identity(payload)}, nil

	default:
		return nil, fmt.Errorf("%q: %w", env.Event, ErrUnknownEvent)
	}
}

func decodeNewMessage(raw json.RawMessage, payload gjson.Result) (Inbound, error) {
	if !payload.IsObject() {
		return nil, fmt.Errorf("%s: message is not an object: %w", EventNewMessage, ErrMalformedPayload)
	}
	ev := NewMessage{
		Message:  bytes.Clone(raw),
		ChatID:   firstString(payload, "chat._id", "chat.id", "chatId"),
		SenderID: firstString(payload, "sender._id", "sender.id", "senderId"),
	}

	users := payload.Get("chat.users")
	if users.IsArray() {
		ev.Recipients = make([]string, 0, len(users.Array()))
		for _, u := range users.Array() {
			if id := identity(u); id != "" {
				ev.Recipients = append(ev.Recipients, id)
			}
		}
	}
	return ev, nil
}

// identity reads a user id from either a bare string or an object with _id or id.
func identity(v gjson.Result) string {
	if v.Type == gjson.String {
		return strings.TrimSpace(v.String())
	}
	return firstString(v, "_id", "id")
}

// roomID reads a room id from a bare string or from chatId, roomId or _id.
func roomID(v gjson.Result) string {
	if v.Type == gjson.String {
		return strings.TrimSpace(v.String())
	}
	return firstString(v, "chatId", "roomId", "_id")
}

func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := strings.TrimSpace(v.Get(p).String()); s != "" {
			return s
		}
	}
	return ""
}

func rawField(v gjson.Result, path string) json.RawMessage {
	field := v.Get(path)
	if !field.Exists() {
		return nil
	}
	return json.RawMessage(field.Raw)
}

// Encode builds an outbound frame. A nil payload omits the payload key.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode %s payload: %w", event, err)
			}
			raw = b
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
