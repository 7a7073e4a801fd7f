package realtime

import "time"

// MessageType enumerates the kinds of message bodies the persistence layer stores.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageGIF   MessageType = "gif"
	MessageVoice MessageType = "voice"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
)

// User is the subset of a persisted user that routing looks at.
type User struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// Chat is the persisted chat a message belongs to.
type Chat struct {
	ID          string `json:"_id"`
	ChatName    string `json:"chatName,omitempty"`
	IsGroupChat bool   `json:"isGroupChat,omitempty"`
	Users       []User `json:"users,omitempty"`
}

// Message is the persisted message shape. The router never decodes into it:
// messages are relayed byte for byte, and only routing fields are read.
// Content is opaque (possibly ciphertext) and MediaURL is an upload reference.
type Message struct {
	ID            string      `json:"_id"`
	Sender        User        `json:"sender"`
	Chat          Chat        `json:"chat"`
	Content       string      `json:"content"`
	MessageType   MessageType `json:"messageType"`
	MediaURL      string      `json:"mediaUrl,omitempty"`
	VoiceDuration float64     `json:"voiceDuration,omitempty"`
	ReadBy        []string    `json:"readBy"`
	CreatedAt     time.Time   `json:"createdAt"`
}
