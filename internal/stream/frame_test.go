package stream

import (
	"testing"
	"time"
)

func TestDecodeNewMessage(t *testing.T) {
	raw := []byte(`{
		"type": "new-message",
		"client_id": "tmp-1",
		"message": {"id": 501, "chat_id": 7, "sender": {"id": 2}, "content": "hi", "timestamp": "2026-03-01T10:00:00Z"}
	}`)

	evt, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	nm, ok := evt.(NewMessage)
	if !ok {
		t.Fatalf("event type = %T, want NewMessage", evt)
	}
	if nm.Message.ID != 501 || nm.Message.ChatID != 7 || nm.ClientID != "tmp-1" {
		t.Errorf("event = %+v", nm)
	}
}

func TestDecodeNewMessageClientIDFallback(t *testing.T) {
	raw := []byte(`{
		"type": "new-message",
		"message": {"id": 501, "chat_id": 7, "client_id": "tmp-2", "sender": {"id": 2}, "content": "hi", "timestamp": "2026-03-01T10:00:00Z"}
	}`)

	evt, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	if evt.(NewMessage).ClientID != "tmp-2" {
		t.Errorf("ClientID = %q, want tmp-2", evt.(NewMessage).ClientID)
	}
}

func TestDecodeReadReceipt(t *testing.T) {
	raw := []byte(`{"type": "read-receipt", "chat_id": 7, "reader_id": 3, "last_read_message_id": 120}`)

	evt, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	rr := evt.(ReadReceipt)
	if rr.ChatID != 7 || rr.ReaderID != 3 || rr.LastReadMessageID != 120 {
		t.Errorf("event = %+v", rr)
	}
}

func TestDecodeUnreadUpdate(t *testing.T) {
	raw := []byte(`{"type": "chat-unread-update", "chat_id": 9, "unread_count": 0}`)

	evt, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	uu := evt.(UnreadUpdate)
	if uu.ChatID != 9 || uu.UnreadCount != 0 {
		t.Errorf("event = %+v", uu)
	}
}

func TestDecodePresence(t *testing.T) {
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw := []byte(`{"type": "presence-update", "user_id": 4, "status": "offline", "last_seen": "2026-03-01T10:00:00Z"}`)

	evt, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	pu := evt.(PresenceUpdate)
	if pu.UserID != 4 || pu.Online {
		t.Errorf("event = %+v", pu)
	}
	if pu.LastSeen == nil || !pu.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", pu.LastSeen, seen)
	}
}

func TestDecodeTyping(t *testing.T) {
	raw := []byte(`{"type": "typing", "chat_id": 7, "user_id": 4, "is_typing": true}`)

	evt, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	ty := evt.(Typing)
	if ty.ChatID != 7 || ty.UserID != 4 || !ty.IsTyping {
		t.Errorf("event = %+v", ty)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"unknown type", `{"type": "shiny-new-thing"}`},
		{"new-message without payload", `{"type": "new-message"}`},
		{"read-receipt without reader", `{"type": "read-receipt", "chat_id": 7}`},
		{"unread without count", `{"type": "chat-unread-update", "chat_id": 9}`},
		{"presence bad status", `{"type": "presence-update", "user_id": 4, "status": "away"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame([]byte(tt.raw)); err == nil {
				t.Error("DecodeFrame() should fail")
			}
		})
	}
}
