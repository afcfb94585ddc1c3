package store

import (
	"context"
	"sync"

	"github.com/edulink/chatsync/internal/api"
	"github.com/edulink/chatsync/internal/bus"
	"github.com/edulink/chatsync/internal/status"
	"go.uber.org/zap"
)

// LoadChats replaces the chat list with the authoritative fetch result,
// sorted descending by most recent activity.
func (s *Store) LoadChats(ctx context.Context) error {
	records, err := s.rest.ListChats(ctx)
	if err != nil {
		s.emitOpFailed("load_chats", 0, err)
		return err
	}

	s.mu.Lock()
	s.chats = fromAPIChats(records)
	s.sortChatsLocked()
	snapshot := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		snapshot = append(snapshot, snapshotChat(c))
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		s.persistChat(c)
	}
	s.bus.Emit(bus.ChatListUpdated, nil)
	return nil
}

// OpenChat makes chatID the active chat: fetches detail and the initial
// message page concurrently, sets them atomically, opens the stream
// connection, and marks the chat read. Re-opening the already active
// chat over a live connection only refreshes unread state.
func (s *Store) OpenChat(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	if s.activeIsLocked(chatID) && !s.active.loading && s.conn.State() == status.Open {
		s.mu.Unlock()
		return s.MarkChatAsRead(ctx, chatID)
	}
	s.active = &ActiveChat{loading: true}
	var provisional *Chat
	if entry := s.findChatLocked(chatID); entry != nil {
		c := snapshotChat(entry)
		provisional = &c
	}
	s.mu.Unlock()

	// Render the cached timeline while the authoritative fetch runs;
	// the fetch result replaces it wholesale.
	if provisional != nil {
		if cached := s.seedTimeline(chatID); len(cached) > 0 {
			s.mu.Lock()
			if s.active != nil && s.active.loading {
				s.active.Chat = provisional
				s.active.Messages = cached
			}
			s.mu.Unlock()
			s.bus.Emit(bus.MessageUpserted, chatID)
		}
	}

	// A connection still bound to a previously open chat is stale now.
	if bound := s.conn.ChatID(); bound != 0 && bound != chatID {
		s.conn.Close()
	}

	var (
		wg      sync.WaitGroup
		chat    *api.Chat
		msgs    []api.Message
		chatErr error
		msgErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		chat, chatErr = s.rest.GetChat(ctx, chatID)
	}()
	go func() {
		defer wg.Done()
		msgs, msgErr = s.rest.ListMessages(ctx, chatID)
	}()
	wg.Wait()

	if chatErr != nil || msgErr != nil {
		err := chatErr
		if err == nil {
			err = msgErr
		}
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		if api.IsNotFound(err) {
			s.bus.Emit(bus.ChatNotFound, chatID)
		} else {
			s.emitOpFailed("open_chat", chatID, err)
		}
		return err
	}

	s.mu.Lock()
	ac := &ActiveChat{Chat: fromAPIChat(chat), Messages: fromAPIMessages(msgs)}
	s.active = ac
	s.sortTimelineLocked()
	// Refresh the list entry from the authoritative detail.
	if entry := s.findChatLocked(chatID); entry != nil {
		*entry = *ac.Chat
	} else {
		s.chats = append(s.chats, fromAPIChat(chat))
	}
	s.sortChatsLocked()
	s.mu.Unlock()
	s.bus.Emit(bus.ChatOpened, chatID)

	if err := s.conn.Open(ctx, chatID); err != nil {
		// Surfaced via stream status events; the chat itself is usable.
		s.logger.Warn("stream open failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return s.MarkChatAsRead(ctx, chatID)
}

// CloseChat closes the active chat: tears down the connection and
// clears the active view. The chat-list entry stays.
func (s *Store) CloseChat() {
	s.conn.Close()
	s.mu.Lock()
	cleared := s.active != nil
	s.active = nil
	s.mu.Unlock()
	if cleared {
		s.bus.Emit(bus.ChatClosed, nil)
	}
}

// MarkChatAsRead optimistically zeroes the chat's unread counter, then
// confirms with the server; on failure both the list entry and the
// active chat counter are restored.
func (s *Store) MarkChatAsRead(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	var (
		entry       = s.findChatLocked(chatID)
		prevEntry   int
		prevActive  int
		activeMatch = s.activeIsLocked(chatID)
	)
	if entry != nil {
		prevEntry = entry.UnreadCount
		entry.UnreadCount = 0
	}
	if activeMatch {
		prevActive = s.active.Chat.UnreadCount
		s.active.Chat.UnreadCount = 0
	}
	s.mu.Unlock()
	s.bus.Emit(bus.ChatUnreadChanged, chatID)

	if err := s.rest.MarkRead(ctx, chatID); err != nil {
		s.mu.Lock()
		if entry := s.findChatLocked(chatID); entry != nil {
			entry.UnreadCount = prevEntry
		}
		if s.activeIsLocked(chatID) {
			s.active.Chat.UnreadCount = prevActive
		}
		s.mu.Unlock()
		s.bus.Emit(bus.ChatUnreadChanged, chatID)
		s.emitOpFailed("mark_read", chatID, err)
		return err
	}
	return nil
}

// CreateChat creates a direct or group chat and inserts it into the list.
func (s *Store) CreateChat(ctx context.Context, req api.CreateChatRequest) (Chat, error) {
	if _, err := s.localUser(); err != nil {
		return Chat{}, err
	}
	record, err := s.rest.CreateChat(ctx, req)
	if err != nil {
		s.emitOpFailed("create_chat", 0, err)
		return Chat{}, err
	}

	s.mu.Lock()
	chat := fromAPIChat(record)
	if entry := s.findChatLocked(chat.ID); entry != nil {
		*entry = *chat
	} else {
		s.chats = append(s.chats, chat)
	}
	s.sortChatsLocked()
	out := snapshotChat(chat)
	s.mu.Unlock()

	s.persistChat(out)
	s.bus.Emit(bus.ChatListUpdated, nil)
	return out, nil
}

// DeleteChat deletes the chat server-side, then drops it locally. If it
// was the active chat, the active view is cleared and the connection
// closed.
func (s *Store) DeleteChat(ctx context.Context, chatID int64) error {
	if err := s.rest.DeleteChat(ctx, chatID); err != nil {
		s.emitOpFailed("delete_chat", chatID, err)
		return err
	}

	if s.conn.ChatID() == chatID {
		s.conn.Close()
	}
	s.mu.Lock()
	s.removeChatLocked(chatID)
	if s.activeIsLocked(chatID) {
		s.active = nil
	}
	s.mu.Unlock()

	s.unpersistChat(chatID)
	s.bus.Emit(bus.ChatListUpdated, nil)
	return nil
}

// RenameChat updates a chat's name.
func (s *Store) RenameChat(ctx context.Context, chatID int64, name string) error {
	record, err := s.rest.RenameChat(ctx, chatID, name)
	if err != nil {
		s.emitOpFailed("rename_chat", chatID, err)
		return err
	}
	s.applyChatRecord(record)
	return nil
}

// AddParticipant adds a user to a group chat.
func (s *Store) AddParticipant(ctx context.Context, chatID, userID int64) error {
	record, err := s.rest.AddParticipant(ctx, chatID, userID)
	if err != nil {
		s.emitOpFailed("add_participant", chatID, err)
		return err
	}
	s.applyChatRecord(record)
	return nil
}

// RemoveParticipant removes a user from a group chat. Removing oneself
// is rejected server-side; LeaveChat is the path for that.
func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID int64) error {
	record, err := s.rest.RemoveParticipant(ctx, chatID, userID)
	if err != nil {
		s.emitOpFailed("remove_participant", chatID, err)
		return err
	}
	s.applyChatRecord(record)
	return nil
}

// LeaveChat removes the local user from the chat and drops it locally.
func (s *Store) LeaveChat(ctx context.Context, chatID int64) error {
	if err := s.rest.LeaveChat(ctx, chatID); err != nil {
		s.emitOpFailed("leave_chat", chatID, err)
		return err
	}

	if s.conn.ChatID() == chatID {
		s.conn.Close()
	}
	s.mu.Lock()
	s.removeChatLocked(chatID)
	if s.activeIsLocked(chatID) {
		s.active = nil
	}
	s.mu.Unlock()

	s.unpersistChat(chatID)
	s.bus.Emit(bus.ChatListUpdated, nil)
	return nil
}

// applyChatRecord merges an authoritative chat record into the list
// entry and, when it is the active chat, the active record. Timeline
// and unread state of the active view are preserved.
func (s *Store) applyChatRecord(record *api.Chat) {
	s.mu.Lock()
	chat := fromAPIChat(record)
	if entry := s.findChatLocked(chat.ID); entry != nil {
		*entry = *chat
	} else {
		s.chats = append(s.chats, chat)
	}
	if s.activeIsLocked(chat.ID) {
		s.active.Chat.Name = chat.Name
		s.active.Chat.Participants = chat.Participants
	}
	s.sortChatsLocked()
	out := snapshotChat(chat)
	s.mu.Unlock()

	s.persistChat(out)
	s.bus.Emit(bus.ChatListUpdated, nil)
}

func (s *Store) removeChatLocked(chatID int64) {
	for i, c := range s.chats {
		if c.ID == chatID {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			return
		}
	}
}
