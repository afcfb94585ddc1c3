package store

import (
	"time"

	"github.com/edulink/chatsync/internal/api"
)

// Chat kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// MessageState is the two-phase lifecycle of a local message record:
// pending (optimistically created, no server id yet) or confirmed.
type MessageState int

const (
	StateConfirmed MessageState = iota
	StatePending
)

// Message is a store-owned message record. A pending message has
// State == StatePending, ID == 0 and a non-empty ClientID; confirmation
// replaces it in place with ID set and ClientID cleared.
type Message struct {
	ID         int64
	ClientID   string
	ChatID     int64
	Sender     api.User
	Content    string
	Attachment *api.Attachment
	Timestamp  time.Time
	State      MessageState
	ReadByPeer bool
}

// Pending reports whether the message awaits server confirmation.
func (m *Message) Pending() bool {
	return m.State == StatePending
}

// Chat is a store-owned chat record.
type Chat struct {
	ID           int64
	Kind         string
	Name         string
	Participants []api.User
	CreatedBy    *api.User
	LastMessage  *Message
	UnreadCount  int
	CreatedAt    time.Time
}

// activityTime is the timestamp the chat list is ordered by: the last
// message's timestamp, falling back to chat creation.
func (c *Chat) activityTime() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

// Presence is a user's online state, updated only by stream events.
type Presence struct {
	Online   bool
	LastSeen time.Time
}

// ActiveChat holds the open chat and its message timeline.
type ActiveChat struct {
	Chat     *Chat
	Messages []*Message

	// loading is set while the initial detail+messages fetch is in
	// flight, so a concurrent re-open does not short-circuit into the
	// refresh-only path.
	loading bool
}

// OpError is the payload of op.failed bus events.
type OpError struct {
	Op     string
	ChatID int64
	Err    error
}

func chatKind(apiType string) string {
	if apiType == api.ChatTypeGroup {
		return KindGroup
	}
	return KindDirect
}

func fromAPIMessage(m *api.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		Sender:     m.Sender,
		Content:    m.Content,
		Attachment: m.Attachment,
		Timestamp:  m.Timestamp,
		State:      StateConfirmed,
	}
}

func fromAPIChat(c *api.Chat) *Chat {
	if c == nil {
		return nil
	}
	return &Chat{
		ID:           c.ID,
		Kind:         chatKind(c.ChatType),
		Name:         c.Name,
		Participants: c.Participants,
		CreatedBy:    c.CreatedBy,
		LastMessage:  fromAPIMessage(c.LastMessage),
		UnreadCount:  c.UnreadCount,
		CreatedAt:    c.CreatedAt,
	}
}

func fromAPIChats(records []api.Chat) []*Chat {
	chats := make([]*Chat, 0, len(records))
	for i := range records {
		chats = append(chats, fromAPIChat(&records[i]))
	}
	return chats
}

func fromAPIMessages(records []api.Message) []*Message {
	msgs := make([]*Message, 0, len(records))
	for i := range records {
		msgs = append(msgs, fromAPIMessage(&records[i]))
	}
	return msgs
}
