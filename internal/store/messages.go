package store

import (
	"context"
	"errors"
	"time"

	"github.com/edulink/chatsync/internal/api"
	"github.com/edulink/chatsync/internal/bus"
	"github.com/google/uuid"
)

// ErrMessageNotFound is returned when a message id is not present in
// the active timeline.
var ErrMessageNotFound = errors.New("store: message not found")

// SendInput carries an outgoing message: text content and/or an
// attachment reference. ReleasePreview, when set, frees the transient
// local preview resource and is called on every exit path.
type SendInput struct {
	Content        string
	Attachment     *api.Attachment
	ReleasePreview func()
}

// SendMessage appends a pending entry to the timeline immediately, then
// issues the send request. On success the pending entry is replaced by
// the confirmed message, matched by its temporary identifier; on
// failure it is removed again.
func (s *Store) SendMessage(ctx context.Context, chatID int64, in SendInput) error {
	release := func() {
		if in.ReleasePreview != nil {
			in.ReleasePreview()
			in.ReleasePreview = nil
		}
	}

	self, err := s.localUser()
	if err != nil {
		release()
		return err
	}

	pending := &Message{
		ClientID:   uuid.NewString(),
		ChatID:     chatID,
		Sender:     api.User{ID: self.UserID, FirstName: self.Username},
		Content:    in.Content,
		Attachment: in.Attachment,
		Timestamp:  time.Now(),
		State:      StatePending,
	}

	s.mu.Lock()
	if s.activeIsLocked(chatID) {
		s.active.Messages = append(s.active.Messages, pending)
		s.sortTimelineLocked()
	}
	s.mu.Unlock()
	s.bus.Emit(bus.MessageUpserted, chatID)

	record, err := s.rest.SendMessage(ctx, chatID, api.SendMessageRequest{
		ClientID:   pending.ClientID,
		Content:    in.Content,
		Attachment: in.Attachment,
	})
	if err != nil {
		s.mu.Lock()
		s.removePendingLocked(chatID, pending.ClientID)
		s.mu.Unlock()
		release()
		s.bus.Emit(bus.MessageSendFailed, OpError{Op: "send_message", ChatID: chatID, Err: err})
		return err
	}

	confirmed := fromAPIMessage(record)
	s.mu.Lock()
	if s.activeIsLocked(chatID) {
		s.replaceOrAppendLocked(confirmed, pending.ClientID)
		s.sortTimelineLocked()
	}
	if entry := s.findChatLocked(chatID); entry != nil {
		entry.LastMessage = confirmed
		// Locally authored, so nothing is unread.
		entry.UnreadCount = 0
		s.sortChatsLocked()
	}
	var entrySnapshot *Chat
	if entry := s.findChatLocked(chatID); entry != nil {
		c := snapshotChat(entry)
		entrySnapshot = &c
	}
	s.mu.Unlock()
	release()

	s.persistMessage(*confirmed)
	if entrySnapshot != nil {
		s.persistChat(*entrySnapshot)
	}
	s.bus.Emit(bus.MessageUpserted, chatID)
	s.bus.Emit(bus.ChatListUpdated, nil)
	return nil
}

// EditMessage optimistically mutates the message content, then confirms
// with the server; on failure the prior content is restored verbatim.
func (s *Store) EditMessage(ctx context.Context, chatID, messageID int64, newContent string) error {
	s.mu.Lock()
	msg := s.findMessageLocked(chatID, messageID)
	if msg == nil {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	prevContent := msg.Content
	msg.Content = newContent
	s.mu.Unlock()
	s.bus.Emit(bus.MessageUpserted, chatID)

	record, err := s.rest.UpdateMessage(ctx, chatID, messageID, newContent)
	if err != nil {
		s.mu.Lock()
		if msg := s.findMessageLocked(chatID, messageID); msg != nil {
			msg.Content = prevContent
		}
		s.mu.Unlock()
		s.bus.Emit(bus.MessageUpserted, chatID)
		s.emitOpFailed("edit_message", chatID, err)
		return err
	}

	confirmed := fromAPIMessage(record)
	s.mu.Lock()
	if msg := s.findMessageLocked(chatID, messageID); msg != nil {
		msg.Content = confirmed.Content
		msg.Timestamp = confirmed.Timestamp
		s.sortTimelineLocked()
	}
	if entry := s.findChatLocked(chatID); entry != nil && entry.LastMessage != nil && entry.LastMessage.ID == messageID {
		entry.LastMessage = confirmed
	}
	s.mu.Unlock()

	s.persistMessage(*confirmed)
	s.bus.Emit(bus.MessageUpserted, chatID)
	return nil
}

// DeleteMessage optimistically removes the message from the timeline,
// then confirms with the server; on failure the full prior timeline is
// restored. If the deleted message was the chat's summary message, the
// chat detail is refreshed afterwards for the new summary.
func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	s.mu.Lock()
	if !s.activeIsLocked(chatID) || s.findMessageLocked(chatID, messageID) == nil {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	snapshot := append([]*Message(nil), s.active.Messages...)
	kept := s.active.Messages[:0:0]
	for _, m := range s.active.Messages {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	s.active.Messages = kept
	entry := s.findChatLocked(chatID)
	wasSummary := entry != nil && entry.LastMessage != nil && entry.LastMessage.ID == messageID
	s.mu.Unlock()
	s.bus.Emit(bus.MessageRemoved, messageID)

	if err := s.rest.DeleteMessage(ctx, chatID, messageID); err != nil {
		s.mu.Lock()
		if s.activeIsLocked(chatID) {
			s.active.Messages = snapshot
			s.sortTimelineLocked()
		}
		s.mu.Unlock()
		s.bus.Emit(bus.MessageUpserted, chatID)
		s.emitOpFailed("delete_message", chatID, err)
		return err
	}

	s.unpersistMessage(messageID)

	if wasSummary {
		record, err := s.rest.GetChat(ctx, chatID)
		if err != nil {
			// The delete itself succeeded; the summary catches up on
			// the next list refresh.
			s.emitOpFailed("refresh_chat", chatID, err)
			return nil
		}
		s.applyChatRecord(record)
	}
	return nil
}

// removePendingLocked drops the pending entry with the given temporary
// identifier from the active timeline.
func (s *Store) removePendingLocked(chatID int64, clientID string) {
	if !s.activeIsLocked(chatID) {
		return
	}
	for i, m := range s.active.Messages {
		if m.ClientID == clientID && m.Pending() {
			s.active.Messages = append(s.active.Messages[:i], s.active.Messages[i+1:]...)
			return
		}
	}
}

// replaceOrAppendLocked merges a confirmed message into the active
// timeline: an entry matching the confirmed identity or the echoed
// temporary identifier is replaced in place, otherwise the message is
// appended. Idempotent under re-delivery.
func (s *Store) replaceOrAppendLocked(confirmed *Message, clientID string) {
	for i, m := range s.active.Messages {
		if (confirmed.ID != 0 && m.ID == confirmed.ID) ||
			(clientID != "" && m.ClientID == clientID) {
			readByPeer := m.ReadByPeer
			s.active.Messages[i] = confirmed
			// A receipt may have arrived before this confirmation.
			s.active.Messages[i].ReadByPeer = readByPeer
			return
		}
	}
	s.active.Messages = append(s.active.Messages, confirmed)
}

// findMessageLocked returns the active-timeline message with the given
// confirmed identity, or nil.
func (s *Store) findMessageLocked(chatID, messageID int64) *Message {
	if !s.activeIsLocked(chatID) {
		return nil
	}
	for _, m := range s.active.Messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}
