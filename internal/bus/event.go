package bus

import "time"

// Event represents a domain event published on the bus.
//
// The bus is the engine's reactive surface: the embedding UI subscribes
// to kind prefixes ("chat.", "message.", "presence.", "stream.") and
// re-renders from store snapshots when events arrive.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Payload types are documented at
// the publish site.
const (
	ChatListUpdated   = "chat.list_updated"
	ChatOpened        = "chat.opened"
	ChatClosed        = "chat.closed"
	ChatNotFound      = "chat.not_found"
	ChatUnreadChanged = "chat.unread_changed"
	ChatTyping        = "chat.typing"

	MessageUpserted   = "message.upserted"
	MessageRemoved    = "message.removed"
	MessageSendFailed = "message.send_failed"
	MessageRead       = "message.read"

	PresenceUpdated = "presence.updated"

	StreamStatusChanged  = "stream.status_changed"
	StreamConnected      = "stream.connected"
	StreamConnectionLost = "stream.connection_lost"

	OperationFailed = "op.failed"
)
