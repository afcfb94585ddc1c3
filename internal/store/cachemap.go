package store

import (
	"time"

	"github.com/edulink/chatsync/internal/api"
	"github.com/edulink/chatsync/internal/cache"
	"go.uber.org/zap"
)

// chatFromCache rebuilds a chat-list entry from its cached form. The
// cached summary only carries a preview, so the synthesized LastMessage
// holds content and timestamp and nothing else.
func chatFromCache(cc cache.Chat) *Chat {
	c := &Chat{
		ID:          cc.ID,
		Kind:        cc.ChatType,
		Name:        cc.Name,
		UnreadCount: cc.UnreadCount,
		CreatedAt:   time.UnixMilli(cc.CreatedAt),
	}
	if cc.LastMessageAt > 0 {
		c.LastMessage = &Message{
			ChatID:    cc.ID,
			Content:   cc.LastMessagePreview,
			Timestamp: time.UnixMilli(cc.LastMessageAt),
			State:     StateConfirmed,
		}
	}
	return c
}

func chatToCache(c *Chat) *cache.Chat {
	cc := &cache.Chat{
		ID:          c.ID,
		ChatType:    c.Kind,
		Name:        c.Name,
		UnreadCount: c.UnreadCount,
		CreatedAt:   c.CreatedAt.UnixMilli(),
	}
	if c.LastMessage != nil {
		cc.LastMessageAt = c.LastMessage.Timestamp.UnixMilli()
		cc.LastMessagePreview = c.LastMessage.Content
	}
	return cc
}

// messageFromCache rebuilds a confirmed timeline message from its
// cached form.
func messageFromCache(cm cache.Message) *Message {
	m := &Message{
		ID:         cm.ID,
		ChatID:     cm.ChatID,
		Sender:     api.User{ID: cm.SenderID, FirstName: cm.SenderName},
		Content:    cm.Content,
		ReadByPeer: cm.ReadByPeer,
		Timestamp:  time.UnixMilli(cm.Timestamp),
		State:      StateConfirmed,
	}
	if cm.AttachmentURL != "" {
		m.Attachment = &api.Attachment{URL: cm.AttachmentURL}
	}
	return m
}

// seedTimeline returns the cached recent messages for a chat, oldest
// first, for provisional rendering while the authoritative fetch runs.
func (s *Store) seedTimeline(chatID int64) []*Message {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.RecentMessages(chatID, 50)
	if err != nil {
		s.logger.Warn("cache read failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}
	msgs := make([]*Message, 0, len(cached))
	for i := len(cached) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromCache(cached[i]))
	}
	return msgs
}

func messageToCache(m *Message) *cache.Message {
	cm := &cache.Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.Sender.ID,
		SenderName: m.Sender.FirstName,
		Content:    m.Content,
		ReadByPeer: m.ReadByPeer,
		Timestamp:  m.Timestamp.UnixMilli(),
	}
	if m.Attachment != nil {
		cm.AttachmentURL = m.Attachment.URL
	}
	return cm
}
