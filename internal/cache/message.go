package cache

// UpsertMessage inserts or updates a message record (idempotent on id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_id, sender_id, sender_name, content, attachment_url, read_by_peer, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			attachment_url = excluded.attachment_url,
			read_by_peer = excluded.read_by_peer,
			timestamp = excluded.timestamp`,
		m.ID, m.ChatID, m.SenderID, m.SenderName, m.Content, m.AttachmentURL, m.ReadByPeer, m.Timestamp)
	return err
}

// RecentMessages returns up to limit cached messages for a chat, newest
// first.
func (db *DB) RecentMessages(chatID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, chat_id, sender_id, sender_name, content, attachment_url, read_by_peer, timestamp
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.Content, &m.AttachmentURL, &m.ReadByPeer, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessage removes a message record.
func (db *DB) DeleteMessage(messageID int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, messageID)
	return err
}
