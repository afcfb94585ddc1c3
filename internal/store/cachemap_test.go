package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edulink/chatsync/internal/api"
	"github.com/edulink/chatsync/internal/auth"
	"github.com/edulink/chatsync/internal/bus"
	"github.com/edulink/chatsync/internal/cache"
	"github.com/edulink/chatsync/internal/status"
	"go.uber.org/zap"
)

func testCache(t *testing.T) *cache.DB {
	t.Helper()
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newCachedStore(t *testing.T, db *cache.DB) (*Store, *fakeRest) {
	t.Helper()
	rest := newFakeRest()
	tokens := &auth.StaticTokenSource{AccessToken: "tok", User: auth.Identity{UserID: 1, Username: "me"}}
	s := New(rest, &fakeConn{state: status.Disconnected}, tokens, bus.New(), db, zap.NewNop())
	return s, rest
}

func TestSeedRendersCachedChats(t *testing.T) {
	db := testCache(t)
	if err := db.UpsertChat(&cache.Chat{
		ID:                 9,
		ChatType:           KindGroup,
		Name:               "Math 7B",
		UnreadCount:        4,
		LastMessageAt:      2000,
		LastMessagePreview: "homework",
		CreatedAt:          100,
	}); err != nil {
		t.Fatal(err)
	}

	s, _ := newCachedStore(t, db)
	s.Seed()

	chats := s.Chats()
	if len(chats) != 1 {
		t.Fatalf("len(chats) = %d, want 1", len(chats))
	}
	c := chats[0]
	if c.ID != 9 || c.Kind != KindGroup || c.Name != "Math 7B" || c.UnreadCount != 4 {
		t.Errorf("chat = %+v", c)
	}
	if c.LastMessage == nil || c.LastMessage.Content != "homework" ||
		!c.LastMessage.Timestamp.Equal(time.UnixMilli(2000)) {
		t.Errorf("summary = %+v, want cached preview", c.LastMessage)
	}
}

func TestOpenChatSeedsTimelineFromCache(t *testing.T) {
	db := testCache(t)
	if err := db.UpsertChat(&cache.Chat{ID: 7, ChatType: KindDirect, Name: "Ms. Albright", CreatedAt: 100}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*cache.Message{
		{ID: 10, ChatID: 7, SenderID: 3, Content: "cached-1", Timestamp: 1000},
		{ID: 11, ChatID: 7, SenderID: 3, Content: "cached-2", Timestamp: 2000},
	} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	s, rest := newCachedStore(t, db)
	s.Seed()
	rest.details[7] = api.Chat{ID: 7, ChatType: api.ChatTypeDirect}
	rest.messages[7] = []api.Message{apiMsg(12, 7, 3, "fresh", 3000)}

	// While the fetch is in flight the cached timeline must already be
	// on screen, oldest first.
	sawCached := false
	rest.onGet = func() {
		_, msgs, ok := s.Active()
		if ok && len(msgs) == 2 && msgs[0].ID == 10 && msgs[1].ID == 11 {
			sawCached = true
		}
	}

	if err := s.OpenChat(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if !sawCached {
		t.Error("cached timeline not rendered while the fetch was in flight")
	}

	_, msgs, _ := s.Active()
	if len(msgs) != 1 || msgs[0].ID != 12 {
		t.Errorf("timeline = %+v, want the authoritative fetch result", msgs)
	}
}

func TestLoadChatsWritesThroughToCache(t *testing.T) {
	db := testCache(t)
	s, rest := newCachedStore(t, db)
	last := apiMsg(100, 9, 3, "see you", 5000)
	rest.chats = []api.Chat{{ID: 9, ChatType: api.ChatTypeGroup, Name: "Math 7B", UnreadCount: 2, LastMessage: &last}}

	if err := s.LoadChats(context.Background()); err != nil {
		t.Fatal(err)
	}

	cached, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 {
		t.Fatalf("len(cached) = %d, want 1", len(cached))
	}
	if cached[0].ID != 9 || cached[0].LastMessagePreview != "see you" || cached[0].LastMessageAt != 5000 {
		t.Errorf("cached = %+v", cached[0])
	}
}

func TestDeleteChatRemovesCacheEntry(t *testing.T) {
	db := testCache(t)
	s, rest := newCachedStore(t, db)
	rest.chats = []api.Chat{{ID: 9, ChatType: api.ChatTypeDirect}}
	rest.details[9] = api.Chat{ID: 9, ChatType: api.ChatTypeDirect}
	if err := s.LoadChats(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteChat(context.Background(), 9); err != nil {
		t.Fatal(err)
	}
	cached, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 0 {
		t.Errorf("len(cached) = %d, want 0", len(cached))
	}
}
