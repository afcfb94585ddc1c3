package store

import (
	"context"
	"time"

	"github.com/edulink/chatsync/internal/bus"
	"github.com/edulink/chatsync/internal/stream"
	"go.uber.org/zap"
)

// typingTTL is how long a typing indicator stays live without a
// refreshing frame.
const typingTTL = 5 * time.Second

// ApplyNewMessage reconciles a server-persisted message into local
// state. An existing record matching the confirmed id or the echoed
// temporary identifier is replaced in place, so the local echo of an
// own send and a re-delivered frame both collapse into one confirmed
// record.
func (s *Store) ApplyNewMessage(e stream.NewMessage) {
	msg := fromAPIMessage(&e.Message)
	msg.ClientID = ""

	self, _ := s.tokens.Identity()
	foreign := msg.Sender.ID != self.UserID

	s.mu.Lock()
	chatID := msg.ChatID
	activeMatch := s.activeIsLocked(chatID)
	if activeMatch {
		s.replaceOrAppendLocked(msg, e.ClientID)
		s.sortTimelineLocked()
	}

	entry := s.findChatLocked(chatID)
	if entry != nil {
		// Re-delivery of the frame already reflected in the summary
		// must not bump the counter again.
		counted := entry.LastMessage != nil && entry.LastMessage.ID == msg.ID
		entry.LastMessage = msg
		switch {
		case activeMatch:
			entry.UnreadCount = 0
		case foreign && !counted:
			entry.UnreadCount++
		}
		s.sortChatsLocked()
	}
	var entrySnapshot *Chat
	if entry != nil {
		c := snapshotChat(entry)
		entrySnapshot = &c
	}
	s.mu.Unlock()

	s.persistMessage(*msg)
	if entrySnapshot != nil {
		s.persistChat(*entrySnapshot)
	}
	if activeMatch {
		s.bus.Emit(bus.MessageUpserted, chatID)
		if foreign {
			// The chat is on screen, so the message counts as read
			// immediately; tell the server off the event path.
			go func() {
				if err := s.MarkChatAsRead(context.Background(), chatID); err != nil {
					s.logger.Warn("catch-up mark-read failed", zap.Int64("chat_id", chatID), zap.Error(err))
				}
			}()
		}
	}
	s.bus.Emit(bus.ChatListUpdated, nil)

	if entry == nil {
		// A chat created elsewhere; fetch the authoritative list so it
		// appears with its server-side summary and unread count.
		go func() {
			if err := s.LoadChats(context.Background()); err != nil {
				s.logger.Warn("chat list refresh failed", zap.Error(err))
			}
		}()
	}
}

// ApplyReadReceipt marks the local user's own confirmed messages up to
// the receipt boundary as read by a peer. Receipts for the local
// user's own reads carry no new information and are ignored.
func (s *Store) ApplyReadReceipt(e stream.ReadReceipt) {
	self, _ := s.tokens.Identity()
	if e.ReaderID == self.UserID {
		return
	}

	s.mu.Lock()
	changed := false
	if s.activeIsLocked(e.ChatID) {
		for _, m := range s.active.Messages {
			if m.Sender.ID != self.UserID || m.Pending() || m.ReadByPeer {
				continue
			}
			if m.ID <= e.LastReadMessageID {
				m.ReadByPeer = true
				changed = true
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.bus.Emit(bus.MessageRead, e.ChatID)
	}
}

// ApplyUnreadUpdate overwrites the local unread counter with the
// server's authoritative value.
func (s *Store) ApplyUnreadUpdate(e stream.UnreadUpdate) {
	s.mu.Lock()
	entry := s.findChatLocked(e.ChatID)
	if entry != nil {
		entry.UnreadCount = e.UnreadCount
	}
	if s.activeIsLocked(e.ChatID) {
		s.active.Chat.UnreadCount = e.UnreadCount
	}
	s.mu.Unlock()

	if entry == nil {
		go func() {
			if err := s.LoadChats(context.Background()); err != nil {
				s.logger.Warn("chat list refresh failed", zap.Error(err))
			}
		}()
		return
	}
	s.bus.Emit(bus.ChatUnreadChanged, e.ChatID)
}

// ApplyPresenceUpdate records a user's online state. A frame without a
// last-seen timestamp on going offline is stamped with the local clock.
func (s *Store) ApplyPresenceUpdate(e stream.PresenceUpdate) {
	p := Presence{Online: e.Online}
	if !e.Online {
		if e.LastSeen != nil {
			p.LastSeen = *e.LastSeen
		} else {
			p.LastSeen = time.Now()
		}
	}

	s.mu.Lock()
	s.presence[e.UserID] = p
	s.mu.Unlock()
	s.bus.Emit(bus.PresenceUpdated, e.UserID)
}

// ApplyTyping records or clears a typing indicator. Indicators expire
// on their own after typingTTL, so a lost stop frame cannot leave a
// user typing forever.
func (s *Store) ApplyTyping(e stream.Typing) {
	s.mu.Lock()
	if e.IsTyping {
		if s.typing[e.ChatID] == nil {
			s.typing[e.ChatID] = make(map[int64]time.Time)
		}
		s.typing[e.ChatID][e.UserID] = time.Now().Add(typingTTL)
	} else {
		delete(s.typing[e.ChatID], e.UserID)
	}
	s.mu.Unlock()
	s.bus.Emit(bus.ChatTyping, e.ChatID)
}

// ApplyParticipantUpdate merges the refreshed chat record pushed after
// a membership change.
func (s *Store) ApplyParticipantUpdate(e stream.ParticipantUpdate) {
	record := e.Chat
	s.applyChatRecord(&record)
}
