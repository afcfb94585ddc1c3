package cache

import "time"

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, chat_type, name, unread_count, last_message_at, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_type = excluded.chat_type,
			name = excluded.name,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.ID, c.ChatType, c.Name, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, c.CreatedAt, now)
	return err
}

// ListChats returns all cached chats sorted by last activity descending.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT id, chat_type, name, unread_count, last_message_at, last_message_preview, created_at
		FROM chats
		ORDER BY last_message_at DESC, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.ChatType, &c.Name, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat and its cached messages.
func (db *DB) DeleteChat(chatID int64) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM chats WHERE id = ?`, chatID)
	return err
}
