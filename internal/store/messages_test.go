package store

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/edulink/chatsync/internal/api"
	"github.com/edulink/chatsync/internal/bus"
)

func openSeededChat(t *testing.T, s *Store, rest *fakeRest, chat api.Chat, msgs ...api.Message) {
	t.Helper()
	seedChat(t, s, rest, chat, msgs...)
	if err := s.OpenChat(context.Background(), chat.ID); err != nil {
		t.Fatal(err)
	}
}

func TestSendMessagePendingThenConfirmed(t *testing.T) {
	s, rest, _, _ := newTestStore(t)
	openSeededChat(t, s, rest, api.Chat{ID: 7, ChatType: api.ChatTypeDirect})

	// Observe the timeline while the request is in flight: exactly one
	// pending entry with a temporary identifier.
	rest.onSend = func() {
		_, msgs, ok := s.Active()
		if !ok || len(msgs) != 1 {
			t.Errorf("in-flight timeline = %d messages, want 1", len(msgs))
			return
		}
		if !msgs[0].Pending() || msgs[0].ClientID == "" || msgs[0].ID != 0 {
			t.Errorf("in-flight entry = %+v, want pending with client id", msgs[0])
		}
	}

	if err := s.SendMessage(context.Background(), 7, SendInput{Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	_, msgs, ok := s.Active()
	if !ok {
		t.Fatal("no active chat")
	}
	if len(msgs) != 1 {
		t.Fatalf("timeline = %d messages, want 1 (pending replaced, not duplicated)", len(msgs))
	}
	if msgs[0].Pending() || msgs[0].ID != 501 || msgs[0].Content != "hi" {
		t.Errorf("confirmed entry = %+v, want id 501 confirmed", msgs[0])
	}

	entry := s.Chats()[0]
	if entry.LastMessage == nil || entry.LastMessage.ID != 501 {
		t.Error("list entry summary not updated with confirmed message")
	}
	if entry.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for own message", entry.UnreadCount)
	}

	rest.mu.Lock()
	defer rest.mu.Unlock()
	if len(rest.sendReqs) != 1 || rest.sendReqs[0].ClientID == "" {
		t.Error("send request missing client id")
	}
}

func TestSendMessageFailureRemovesPending(t *testing.T) {
	s, rest, _, b := newTestStore(t)
	openSeededChat(t, s, rest, api.Chat{ID: 7, ChatType: api.ChatTypeDirect})
	rest.mu.Lock()
	rest.sendErr = &api.Error{Status: http.StatusInternalServerError}
	rest.mu.Unlock()
	ch, unsub := b.Subscribe(bus.MessageSendFailed, 4)
	defer unsub()

	released := false
	err := s.SendMessage(context.Background(), 7, SendInput{
		Content:        "hi",
		Attachment:     &api.Attachment{URL: "https://files.test/a.png"},
		ReleasePreview: func() { released = true },
	})
	if err == nil {
		t.Fatal("SendMessage() = nil, want error")
	}

	_, msgs, ok := s.Active()
	if !ok {
		t.Fatal("no active chat")
	}
	if len(msgs) != 0 {
		t.Errorf("timeline = %d messages, want 0 (pending removed on failure)", len(msgs))
	}
	if !released {
		t.Error("preview resource not released on failure")
	}
	select {
	case evt := <-ch:
		if oe, ok := evt.Payload.(OpError); !ok || oe.ChatID != 7 {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.send_failed event")
	}
}

func TestSendMessageReleasesPreviewOnSuccess(t *testing.T) {
	s, rest, _, _ := newTestStore(t)
	openSeededChat(t, s, rest, api.Chat{ID: 7, ChatType: api.ChatTypeDirect})

	released := false
	err := s.SendMessage(context.Background(), 7, SendInput{
		Attachment:     &api.Attachment{URL: "https://files.test/a.png"},
		ReleasePreview: func() { released = true },
	})
	if err != nil {
		t.Fatal(err)
	}
	if !released {
		t.Error("preview resource not released after confirmation")
	}
}

func TestEditMessageConfirms(t *testing.T) {
	s, rest, _, _ := newTestStore(t)
	openSeededChat(t, s, rest,
		api.Chat{ID: 7, ChatType: api.ChatTypeDirect},
		apiMsg(10, 7, 1, "old", 1000))

	if err := s.EditMessage(context.Background(), 7, 10, "new"); err != nil {
		t.Fatal(err)
	}

	_, msgs, _ := s.Active()
	if msgs[0].Content != "new" {
		t.Errorf("content = %q, want new", msgs[0].Content)
	}
}

func TestEditMessageRollsBackOnFailure(t *testing.T) {
	s, rest, _, _ := newTestStore(t)
	openSeededChat(t, s, rest,
		api.Chat{ID: 7, ChatType: api.ChatTypeDirect},
		apiMsg(10, 7, 1, "old", 1000))
	rest.mu.Lock()
	rest.updateErr = &api.Error{Status: http.StatusForbidden}
	rest.mu.Unlock()

	if err := s.EditMessage(context.Background(), 7, 10, "new"); err == nil {
		t.Fatal("EditMessage() = nil, want error")
	}

	_, msgs, _ := s.Active()
	if msgs[0].Content != "old" {
		t.Errorf("content after rollback = %q, want old", msgs[0].Content)
	}
}

func TestEditMessageUnknownID(t *testing.T) {
	s, rest, _, _ := newTestStore(t)
	openSeededChat(t, s, rest, api.Chat{ID: 7, ChatType: api.ChatTypeDirect})

	if err := s.EditMessage(context.Background(), 7, 999, "x"); err != ErrMessageNotFound {
		t.Errorf("error = %v, want ErrMessageNotFound", err)
	}
}

func TestDeleteMessageRollsBackOnFailure(t *testing.T) {
	s, rest, _, _ := newTestStore(t)
	openSeededChat(t, s, rest,
		api.Chat{ID: 7, ChatType: api.ChatTypeDirect},
		apiMsg(10, 7, 1, "first", 1000), apiMsg(11, 7, 1, "second", 2000))
	rest.mu.Lock()
	rest.deleteMsg = &api.Error{Status: http.StatusForbidden}
	rest.mu.Unlock()

	if err := s.DeleteMessage(context.Background(), 7, 10); err == nil {
		t.Fatal("DeleteMessage() = nil, want error")
	}

	_, msgs, _ := s.Active()
	if len(msgs) != 2 || msgs[0].ID != 10 || msgs[1].ID != 11 {
		t.Errorf("timeline after rollback = %+v, want ids [10 11]", msgs)
	}
}

func TestDeleteMessageRefreshesSummary(t *testing.T) {
	s, rest, _, _ := newTestStore(t)
	last := apiMsg(11, 7, 1, "second", 2000)
	openSeededChat(t, s, rest,
		api.Chat{ID: 7, ChatType: api.ChatTypeDirect, LastMessage: &last},
		apiMsg(10, 7, 1, "first", 1000), last)

	// After the delete, the server reports the previous message as the
	// chat summary.
	remaining := apiMsg(10, 7, 1, "first", 1000)
	rest.mu.Lock()
	rest.details[7] = api.Chat{ID: 7, ChatType: api.ChatTypeDirect, LastMessage: &remaining}
	rest.mu.Unlock()

	if err := s.DeleteMessage(context.Background(), 7, 11); err != nil {
		t.Fatal(err)
	}

	_, msgs, _ := s.Active()
	if len(msgs) != 1 || msgs[0].ID != 10 {
		t.Errorf("timeline = %+v, want only id 10", msgs)
	}
	entry := s.Chats()[0]
	if entry.LastMessage == nil || entry.LastMessage.ID != 10 {
		t.Error("list entry summary not refreshed after deleting the last message")
	}
}
