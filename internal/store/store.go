// Package store is the authoritative in-memory model of the user's
// messaging session: the chat list, the active chat's timeline, and the
// presence map. Both REST-driven flows (optimistic mutations) and
// stream-driven flows (reconciliation) mutate it; server-confirmed
// values always replace speculative ones.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/edulink/chatsync/internal/api"
	"github.com/edulink/chatsync/internal/auth"
	"github.com/edulink/chatsync/internal/bus"
	"github.com/edulink/chatsync/internal/cache"
	"github.com/edulink/chatsync/internal/status"
	"go.uber.org/zap"
)

// ErrNotAuthenticated is returned by operations that require a local
// user identity when none is available.
var ErrNotAuthenticated = errors.New("store: not authenticated")

// restClient is the REST collaborator surface the store consumes.
// *api.Client satisfies it.
type restClient interface {
	ListChats(ctx context.Context) ([]api.Chat, error)
	GetChat(ctx context.Context, chatID int64) (*api.Chat, error)
	CreateChat(ctx context.Context, req api.CreateChatRequest) (*api.Chat, error)
	DeleteChat(ctx context.Context, chatID int64) error
	RenameChat(ctx context.Context, chatID int64, name string) (*api.Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]api.Message, error)
	SendMessage(ctx context.Context, chatID int64, req api.SendMessageRequest) (*api.Message, error)
	UpdateMessage(ctx context.Context, chatID, messageID int64, content string) (*api.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	MarkRead(ctx context.Context, chatID int64) error
	AddParticipant(ctx context.Context, chatID, userID int64) (*api.Chat, error)
	RemoveParticipant(ctx context.Context, chatID, userID int64) (*api.Chat, error)
	LeaveChat(ctx context.Context, chatID int64) error
}

// connection is the stream surface the store consumes. *stream.Manager
// satisfies it.
type connection interface {
	Open(ctx context.Context, chatID int64) error
	Close()
	ChatID() int64
	State() status.State
}

// Store owns all chat, message and presence records for one session.
type Store struct {
	rest   restClient
	conn   connection
	tokens auth.TokenSource
	bus    *bus.Bus
	cache  *cache.DB // nil disables the warm-start cache
	logger *zap.Logger

	mu       sync.Mutex
	chats    []*Chat
	active   *ActiveChat
	presence map[int64]Presence
	typing   map[int64]map[int64]time.Time
}

// New creates a store. cacheDB may be nil.
func New(rest restClient, conn connection, tokens auth.TokenSource, b *bus.Bus, cacheDB *cache.DB, logger *zap.Logger) *Store {
	return &Store{
		rest:     rest,
		conn:     conn,
		tokens:   tokens,
		bus:      b,
		cache:    cacheDB,
		logger:   logger,
		presence: make(map[int64]Presence),
		typing:   make(map[int64]map[int64]time.Time),
	}
}

// Seed pre-populates the chat list from the warm-start cache so the UI
// has something to render before the first authoritative fetch. A later
// LoadChats replaces the list wholesale.
func (s *Store) Seed() {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.ListChats()
	if err != nil {
		s.logger.Warn("cache seed failed", zap.Error(err))
		return
	}
	if len(cached) == 0 {
		return
	}

	s.mu.Lock()
	if len(s.chats) == 0 {
		s.chats = make([]*Chat, 0, len(cached))
		for _, cc := range cached {
			s.chats = append(s.chats, chatFromCache(cc))
		}
		s.sortChatsLocked()
	}
	s.mu.Unlock()
	s.bus.Emit(bus.ChatListUpdated, nil)
}

// Teardown closes the connection and clears all in-memory records.
func (s *Store) Teardown() {
	s.conn.Close()
	s.mu.Lock()
	s.chats = nil
	s.active = nil
	s.presence = make(map[int64]Presence)
	s.typing = make(map[int64]map[int64]time.Time)
	s.mu.Unlock()
}

// Chats returns a snapshot of the chat list in display order.
func (s *Store) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, snapshotChat(c))
	}
	return out
}

// Active returns a snapshot of the open chat and its timeline, or
// ok=false when no chat is open.
func (s *Store) Active() (Chat, []Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.Chat == nil {
		return Chat{}, nil, false
	}
	msgs := make([]Message, 0, len(s.active.Messages))
	for _, m := range s.active.Messages {
		msgs = append(msgs, *m)
	}
	return snapshotChat(s.active.Chat), msgs, true
}

// Presence returns the known presence for a user.
func (s *Store) Presence(userID int64) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[userID]
	return p, ok
}

// TypingUsers returns the users currently typing in a chat.
func (s *Store) TypingUsers(chatID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var users []int64
	for userID, until := range s.typing[chatID] {
		if until.After(now) {
			users = append(users, userID)
		} else {
			delete(s.typing[chatID], userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// localUser returns the authenticated local identity.
func (s *Store) localUser() (auth.Identity, error) {
	id, err := s.tokens.Identity()
	if err != nil {
		return auth.Identity{}, ErrNotAuthenticated
	}
	return id, nil
}

func snapshotChat(c *Chat) Chat {
	out := *c
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	if c.CreatedBy != nil {
		u := *c.CreatedBy
		out.CreatedBy = &u
	}
	out.Participants = append([]api.User(nil), c.Participants...)
	return out
}

// sortTimelineLocked keeps the active timeline sorted by timestamp.
// Stable, so equal timestamps keep their current relative order and the
// most recently applied update wins position.
func (s *Store) sortTimelineLocked() {
	if s.active == nil {
		return
	}
	msgs := s.active.Messages
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// sortChatsLocked orders the chat list by most recent activity,
// descending.
func (s *Store) sortChatsLocked() {
	sort.SliceStable(s.chats, func(i, j int) bool {
		return s.chats[i].activityTime().After(s.chats[j].activityTime())
	})
}

// findChatLocked returns the chat-list entry for id, or nil.
func (s *Store) findChatLocked(id int64) *Chat {
	for _, c := range s.chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// activeIsLocked reports whether chatID is the currently open chat.
func (s *Store) activeIsLocked(chatID int64) bool {
	return s.active != nil && s.active.Chat != nil && s.active.Chat.ID == chatID
}

func (s *Store) emitOpFailed(op string, chatID int64, err error) {
	s.logger.Warn("operation failed", zap.String("op", op), zap.Int64("chat_id", chatID), zap.Error(err))
	s.bus.Emit(bus.OperationFailed, OpError{Op: op, ChatID: chatID, Err: err})
}

// persistChat writes a chat-list entry through to the warm-start cache.
func (s *Store) persistChat(c Chat) {
	if s.cache == nil {
		return
	}
	if err := s.cache.UpsertChat(chatToCache(&c)); err != nil {
		s.logger.Warn("cache write failed", zap.Int64("chat_id", c.ID), zap.Error(err))
	}
}

// persistMessage writes a confirmed message through to the cache.
// Pending entries are never cached.
func (s *Store) persistMessage(m Message) {
	if s.cache == nil || m.State != StateConfirmed {
		return
	}
	if err := s.cache.UpsertMessage(messageToCache(&m)); err != nil {
		s.logger.Warn("cache write failed", zap.Int64("message_id", m.ID), zap.Error(err))
	}
}

func (s *Store) unpersistChat(chatID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteChat(chatID); err != nil {
		s.logger.Warn("cache delete failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (s *Store) unpersistMessage(messageID int64) {
	if s.cache == nil || messageID == 0 {
		return
	}
	if err := s.cache.DeleteMessage(messageID); err != nil {
		s.logger.Warn("cache delete failed", zap.Int64("message_id", messageID), zap.Error(err))
	}
}
