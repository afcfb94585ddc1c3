package api

import "time"

// Chat kinds as issued by the platform API.
const (
	ChatTypeDirect = "PRIVATE"
	ChatTypeGroup  = "GROUP"
)

// User is a chat participant record.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Attachment is an opaque reference to a stored file. Uploading is the
// file-storage collaborator's job; the engine only carries the reference.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is a server-confirmed message record.
type Message struct {
	ID         int64       `json:"id"`
	ChatID     int64       `json:"chat_id"`
	Sender     User        `json:"sender"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`

	// ClientID echoes the sender's temporary identifier when the server
	// knows it, both in send responses and in new-message stream events.
	ClientID string `json:"client_id,omitempty"`
}

// Chat is a chat record as returned by the platform API.
type Chat struct {
	ID           int64     `json:"id"`
	ChatType     string    `json:"chat_type"`
	Name         string    `json:"name"`
	Participants []User    `json:"participants"`
	CreatedBy    *User     `json:"created_by,omitempty"`
	LastMessage  *Message  `json:"last_message"`
	UnreadCount  int       `json:"unread_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateChatRequest creates a new direct or group chat.
type CreateChatRequest struct {
	ChatType       string  `json:"chat_type"`
	Name           string  `json:"name,omitempty"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

// SendMessageRequest sends a message with text content and/or an
// attachment reference. ClientID is the locally generated temporary
// identifier the server echoes back on confirmation.
type SendMessageRequest struct {
	ClientID   string      `json:"client_id"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}
