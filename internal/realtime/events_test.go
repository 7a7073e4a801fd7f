package realtime

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"setup with user object", `{"event":"setup","payload":{"_id":"u1","name":"Ann"}}`, Setup{UserID: "u1"}},
		{"setup with id alias", `{"event":"setup","payload":{"id":"u1"}}`, Setup{UserID: "u1"}},
		{"setup with bare id", `{"event":"setup","payload":" u1 "}`, Setup{UserID: "u1"}},
		{"join chat", `{"event":"join chat","payload":"R1"}`, JoinChat{RoomID: "R1"}},
		{"join chat alias", `{"event":"join-chat","payload":{"chatId":"R1"}}`, JoinChat{RoomID: "R1"}},
		{"stop typing alias", `{"event":"stop-typing","payload":"R1"}`, StopTyping{RoomID: "R1"}},
		{"mark read", `{"event":"mark-read","payload":{"messageId":"m1","chatId":"R1"}}`, MarkRead{MessageID: "m1", ChatID: "R1"}},
		{"accept call", `{"event":"accept-call","payload":{"chatId":"R1"}}`, AcceptCall{RoomID: "R1"}},
		{"reject call with roomId", `{"event":"reject-call","payload":{"roomId":"R1"}}`, RejectCall{RoomID: "R1"}},
		{"client presence", `{"event":"user-online","payload":"u1"}`, PresenceClaim{Online: true, UserID: "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown event", `{"event":"teleport","payload":"R1"}`, ErrUnknownEvent},
		{"setup without id", `{"event":"setup","payload":{"name":"Ann"}}`, ErrMalformedPayload},
		{"typing without room", `{"event":"typing","payload":{}}`, ErrMalformedPayload},
		{"call without room", `{"event":"call-user","payload":{"offer":"o"}}`, ErrMalformedPayload},
		{"message not an object", `{"event":"new message","payload":"hi"}`, ErrMalformedPayload},
		{"added to group without user", `{"event":"added-to-group","payload":{"chat":{}}}`, ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Parse([]byte(`{`)); err == nil {
		t.Fatal("expected envelope decode error")
	}
}

func TestParseNewMessageRoutingFields(t *testing.T) {
	raw := `{"event":"new message","payload":{
		"_id":"m1",
		"sender":{"_id":"u1"},
		"chat":{"_id":"c1","users":[{"_id":"u1"},{"id":"u2"},"u3",{"name":"no id"}]},
		"content":"x","messageType":"voice","mediaUrl":"https://cdn/v.webm","voiceDuration":3
	}}`
	ev, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	msg, ok := ev.(NewMessage)
	if !ok {
		t.Fatalf("expected NewMessage, got %T", ev)
	}
	if msg.ChatID != "c1" || msg.SenderID != "u1" {
		t.Fatalf("unexpected routing fields: %+v", msg)
	}
	if want := []string{"u1", "u2", "u3"}; !reflect.DeepEqual(msg.Recipients, want) {
		t.Fatalf("Recipients = %v, want %v", msg.Recipients, want)
	}
}

func TestEncode(t *testing.T) {
	frame, err := Encode(EventTyping, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(frame) != `{"event":"typing"}` {
		t.Fatalf("Encode() = %s", frame)
	}

	frame, err = Encode(EventUserOnline, "u1")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(frame) != `{"event":"user-online","payload":"u1"}` {
		t.Fatalf("Encode() = %s", frame)
	}
}
