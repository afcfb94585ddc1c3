package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/edulink/chatsync/internal/api"
)

// Inbound frame kinds, the discriminator values of the envelope's
// "type" field.
const (
	KindNewMessage        = "new-message"
	KindReadReceipt       = "read-receipt"
	KindChatUnread        = "chat-unread-update"
	KindPresence          = "presence-update"
	KindTyping            = "typing"
	KindParticipantUpdate = "participant-update"
)

// envelope is the wire shape of every inbound frame: a tagged union
// discriminated by Type, with the per-kind payload fields flattened.
type envelope struct {
	Type string `json:"type"`

	// new-message
	Message  *api.Message `json:"message,omitempty"`
	ClientID string       `json:"client_id,omitempty"`

	// read-receipt, chat-unread-update, typing
	ChatID            int64 `json:"chat_id,omitempty"`
	ReaderID          int64 `json:"reader_id,omitempty"`
	LastReadMessageID int64 `json:"last_read_message_id,omitempty"`
	UnreadCount       *int  `json:"unread_count,omitempty"`

	// presence-update, typing
	UserID   int64      `json:"user_id,omitempty"`
	Status   string     `json:"status,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	IsTyping bool       `json:"is_typing,omitempty"`

	// participant-update
	Chat *api.Chat `json:"chat,omitempty"`
}

// NewMessage reports that a message was persisted server-side. ClientID
// echoes the sender's temporary identifier when the server knows it.
type NewMessage struct {
	Message  api.Message
	ClientID string
}

// ReadReceipt reports that Reader has read through LastReadMessageID.
type ReadReceipt struct {
	ChatID            int64
	ReaderID          int64
	LastReadMessageID int64
}

// UnreadUpdate carries the authoritative unread count for a chat.
type UnreadUpdate struct {
	ChatID      int64
	UnreadCount int
}

// PresenceUpdate reports a user going online or offline.
type PresenceUpdate struct {
	UserID   int64
	Online   bool
	LastSeen *time.Time
}

// Typing reports a user starting or stopping typing in a chat.
type Typing struct {
	ChatID   int64
	UserID   int64
	IsTyping bool
}

// ParticipantUpdate carries the full refreshed chat record after a
// participant change.
type ParticipantUpdate struct {
	Chat api.Chat
}

// DecodeFrame parses a raw frame into one of the typed events above.
// Malformed payloads and unknown kinds return an error so the
// dispatcher can drop them without touching store state.
func DecodeFrame(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case KindNewMessage:
		if env.Message == nil {
			return nil, fmt.Errorf("new-message frame without message payload")
		}
		clientID := env.ClientID
		if clientID == "" {
			clientID = env.Message.ClientID
		}
		return NewMessage{Message: *env.Message, ClientID: clientID}, nil

	case KindReadReceipt:
		if env.ChatID == 0 || env.ReaderID == 0 {
			return nil, fmt.Errorf("read-receipt frame missing chat_id or reader_id")
		}
		return ReadReceipt{
			ChatID:            env.ChatID,
			ReaderID:          env.ReaderID,
			LastReadMessageID: env.LastReadMessageID,
		}, nil

	case KindChatUnread:
		if env.ChatID == 0 || env.UnreadCount == nil {
			return nil, fmt.Errorf("chat-unread-update frame missing chat_id or unread_count")
		}
		return UnreadUpdate{ChatID: env.ChatID, UnreadCount: *env.UnreadCount}, nil

	case KindPresence:
		if env.UserID == 0 {
			return nil, fmt.Errorf("presence-update frame missing user_id")
		}
		switch env.Status {
		case "online", "offline":
		default:
			return nil, fmt.Errorf("presence-update frame with status %q", env.Status)
		}
		return PresenceUpdate{
			UserID:   env.UserID,
			Online:   env.Status == "online",
			LastSeen: env.LastSeen,
		}, nil

	case KindTyping:
		if env.ChatID == 0 || env.UserID == 0 {
			return nil, fmt.Errorf("typing frame missing chat_id or user_id")
		}
		return Typing{ChatID: env.ChatID, UserID: env.UserID, IsTyping: env.IsTyping}, nil

	case KindParticipantUpdate:
		if env.Chat == nil {
			return nil, fmt.Errorf("participant-update frame without chat payload")
		}
		return ParticipantUpdate{Chat: *env.Chat}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}
