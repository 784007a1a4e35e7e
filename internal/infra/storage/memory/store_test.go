package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"messenger/internal/domain/chat"
)

func seedConversation(t *testing.T, s *Store) *chat.Conversation {
	t.Helper()
	conv, err := chat.NewDirect("alice", "bob", time.Now())
	if err != nil {
		t.Fatalf("NewDirect() error: %v", err)
	}
	if err := s.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	return conv
}

func appendMessage(t *testing.T, s *Store, conv *chat.Conversation, sender, clientID, content string, at time.Time) *chat.Message {
	t.Helper()
	msg, err := chat.NewMessage(conv.ID, sender, clientID, content, nil, "", at)
	if err != nil {
		t.Fatalf("NewMessage() error: %v", err)
	}
	if err := s.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	return msg
}

func TestCreateConversation_DirectUniqueness(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	first, _ := chat.NewDirect("alice", "bob", time.Now())
	if err := s.CreateConversation(ctx, first); err != nil {
		t.Fatalf("first create error: %v", err)
	}
	second, _ := chat.NewDirect("bob", "alice", time.Now())
	if err := s.CreateConversation(ctx, second); err != chat.ErrConflict {
		t.Fatalf("duplicate pair error = %v, want ErrConflict", err)
	}
	found, err := s.FindDirect(ctx, chat.DirectKey("bob", "alice"))
	if err != nil {
		t.Fatalf("FindDirect() error: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("FindDirect() id = %s, want %s", found.ID, first.ID)
	}
}

func TestAppendMessage_ClientIDConflict(t *testing.T) {
	s := NewStore()
	conv := seedConversation(t, s)
	now := time.Now()

	appendMessage(t, s, conv, "alice", "c1", "hello", now)

	dup, _ := chat.NewMessage(conv.ID, "alice", "c1", "hello again", nil, "", now.Add(time.Second))
	if err := s.AppendMessage(context.Background(), dup); err != chat.ErrConflict {
		t.Fatalf("duplicate client id error = %v, want ErrConflict", err)
	}

	existing, err := s.FindByClientID(context.Background(), conv.ID, "alice", "c1")
	if err != nil {
		t.Fatalf("FindByClientID() error: %v", err)
	}
	if existing.Content != "hello" {
		t.Errorf("persisted content = %q, want the original", existing.Content)
	}
}

func TestAppendMessage_UpdatesConversation(t *testing.T) {
	s := NewStore()
	conv := seedConversation(t, s)
	msg := appendMessage(t, s, conv, "alice", "c1", "Hello", time.Now())

	got, err := s.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.MessageID != msg.ID {
		t.Fatalf("last message not updated: %+v", got.LastMessage)
	}
	if got.UnreadFor("bob") != 1 {
		t.Errorf("bob unread = %d, want 1", got.UnreadFor("bob"))
	}
	if got.UnreadFor("alice") != 0 {
		t.Errorf("alice unread = %d, want 0", got.UnreadFor("alice"))
	}
	if !got.LastActivity.Equal(msg.CreatedAt) {
		t.Errorf("last activity = %v, want %v", got.LastActivity, msg.CreatedAt)
	}
}

func TestListOlder_NoDuplicatesNoSkips(t *testing.T) {
	s := NewStore()
	conv := seedConversation(t, s)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		appendMessage(t, s, conv, "alice", fmt.Sprintf("c%d", i), fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
	}

	seen := make(map[string]bool)
	cursor := chat.Cursor{}
	pages := 0
	for {
		batch, err := s.ListOlder(ctx, conv.ID, cursor, 10)
		if err != nil {
			t.Fatalf("ListOlder() error: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, msg := range batch {
			if seen[msg.ID] {
				t.Fatalf("message %s duplicated across pages", msg.ID)
			}
			seen[msg.ID] = true
		}
		cursor = chat.CursorFor(batch[len(batch)-1])
		// new arrivals between page loads must not disturb older pages
		if pages == 0 {
			appendMessage(t, s, conv, "bob", "late", "concurrent arrival", time.Now())
		}
		pages++
	}
	if len(seen) != 25 {
		t.Errorf("paginated %d distinct messages, want the 25 older than the first cursor", len(seen))
	}
}

func TestMarkRead_UpToTarget(t *testing.T) {
	s := NewStore()
	conv := seedConversation(t, s)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	m1 := appendMessage(t, s, conv, "alice", "c1", "one", base)
	m2 := appendMessage(t, s, conv, "alice", "c2", "two", base.Add(time.Second))
	m3 := appendMessage(t, s, conv, "alice", "c3", "three", base.Add(2*time.Second))

	changed, err := s.MarkRead(ctx, conv.ID, "bob", m2.ID, time.Now())
	if err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}
	if len(changed) != 2 || changed[0] != m1.ID || changed[1] != m2.ID {
		t.Errorf("changed = %v, want [%s %s]", changed, m1.ID, m2.ID)
	}

	latest, _ := s.GetMessage(ctx, m3.ID)
	if len(latest.ReadBy) != 0 {
		t.Error("messages after the target must stay unread")
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.UnreadFor("bob") != 0 {
		t.Errorf("bob unread = %d, want 0 after markRead", got.UnreadFor("bob"))
	}

	// idempotent re-application
	changed, err = s.MarkRead(ctx, conv.ID, "bob", m2.ID, time.Now())
	if err != nil {
		t.Fatalf("second MarkRead() error: %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("re-applied receipts changed %v, want nothing", changed)
	}
}

func TestConcurrentAppends_SameConversation(t *testing.T) {
	s := NewStore()
	conv := seedConversation(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "alice"
			if i%2 == 0 {
				sender = "bob"
			}
			msg, err := chat.NewMessage(conv.ID, sender, fmt.Sprintf("c%d", i), "hi", nil, "", time.Now())
			if err != nil {
				t.Errorf("NewMessage() error: %v", err)
				return
			}
			if err := s.AppendMessage(ctx, msg); err != nil {
				t.Errorf("AppendMessage() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	page, err := s.ListOlder(ctx, conv.ID, chat.Cursor{}, 50)
	if err != nil {
		t.Fatalf("ListOlder() error: %v", err)
	}
	if len(page) != 20 {
		t.Fatalf("log has %d messages, want 20", len(page))
	}
	for i := 1; i < len(page); i++ {
		// newest first: each entry sorts before its predecessor
		if page[i-1].Before(page[i]) {
			t.Fatal("log is not totally ordered by (createdAt, id)")
		}
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.UnreadFor("alice")+got.UnreadFor("bob") != 20 {
		t.Errorf("unread counters lost updates: alice=%d bob=%d",
			got.UnreadFor("alice"), got.UnreadFor("bob"))
	}
}
