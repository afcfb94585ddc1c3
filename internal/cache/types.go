package cache

// Chat is a cached chat-list entry. Timestamps are unix milliseconds.
type Chat struct {
	ID                 int64
	ChatType           string
	Name               string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
	CreatedAt          int64
}

// Message is a cached confirmed message. Timestamp is unix milliseconds.
type Message struct {
	ID            int64
	ChatID        int64
	SenderID      int64
	SenderName    string
	Content       string
	AttachmentURL string
	ReadByPeer    bool
	Timestamp     int64
}
