package messaging_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"messenger/internal/app/messaging"
	"messenger/internal/domain/chat"
	"messenger/internal/infra/storage/memory"
)

type capture struct {
	mu     sync.Mutex
	events []chat.Event
}

func (c *capture) Publish(_ context.Context, _ []string, ev chat.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capture) kinds() []chat.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.EventKind, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

type staticDirectory map[string]string

func (d staticDirectory) Profile(_ context.Context, userID string) (messaging.Profile, error) {
	name, ok := d[userID]
	if !ok {
		return messaging.Profile{}, errors.New("unknown user")
	}
	return messaging.Profile{ID: userID, Name: name}, nil
}

func newService(t *testing.T) (*messaging.Service, *capture) {
	t.Helper()
	events := &capture{}
	svc := messaging.NewService(messaging.ServiceConfig{
		Store:     memory.NewStore(),
		Events:    events,
		Directory: staticDirectory{"alice": "Alice Garcia", "bob": "Bob Osei", "carol": "Carol Ngo"},
	})
	return svc, events
}

func TestGetOrCreateDirect_Concurrent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			conv, err := svc.GetOrCreateDirect(ctx, a, b)
			if err != nil {
				t.Errorf("GetOrCreateDirect() error: %v", err)
				return
			}
			ids <- conv.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	first := ""
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("concurrent calls produced distinct conversations: %s vs %s", first, id)
		}
	}
}

func TestSend_FirstMessageScenario(t *testing.T) {
	// A sends "Hello" to B in a brand-new direct conversation.
	svc, events := newService(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateDirect() error: %v", err)
	}
	msg, err := svc.Send(ctx, messaging.SendInput{
		ConversationID:  conv.ID,
		SenderID:        "alice",
		ClientMessageID: "c1",
		Content:         "Hello",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if msg.Status() != chat.StatusSent {
		t.Errorf("fresh message status = %s, want sent", msg.Status())
	}

	got, err := svc.GetConversation(ctx, "bob", conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.Content != "Hello" {
		t.Fatalf("lastMessage = %+v, want Hello", got.LastMessage)
	}
	if got.UnreadFor("bob") != 1 {
		t.Errorf("bob unread = %d, want 1", got.UnreadFor("bob"))
	}

	if err := svc.MarkRead(ctx, "bob", conv.ID, msg.ID); err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}
	got, _ = svc.GetConversation(ctx, "bob", conv.ID)
	if got.UnreadFor("bob") != 0 {
		t.Errorf("bob unread after markRead = %d, want 0", got.UnreadFor("bob"))
	}
	page, _, err := svc.LoadPage(ctx, "alice", conv.ID, "", 10)
	if err != nil {
		t.Fatalf("LoadPage() error: %v", err)
	}
	if len(page) != 1 || page[0].Status() != chat.StatusRead {
		t.Errorf("sender view status = %s, want read", page[0].Status())
	}

	kinds := events.kinds()
	want := map[chat.EventKind]bool{
		chat.EventMessageNew:          false,
		chat.EventConversationUpdated: false,
		chat.EventMessageRead:         false,
	}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("expected a %s event, got %v", k, kinds)
		}
	}
}

func TestSend_RetrySameClientID(t *testing.T) {
	// The ack was dropped; the client retries with the same key.
	svc, _ := newService(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")

	in := messaging.SendInput{
		ConversationID:  conv.ID,
		SenderID:        "alice",
		ClientMessageID: "retry-1",
		Content:         "only once",
	}
	first, err := svc.Send(ctx, in)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	second, err := svc.Send(ctx, in)
	if err != nil {
		t.Fatalf("retried Send() error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("retry created a duplicate: %s vs %s", first.ID, second.ID)
	}
	page, _, _ := svc.LoadPage(ctx, "bob", conv.ID, "", 10)
	if len(page) != 1 {
		t.Fatalf("conversation has %d messages, want exactly 1", len(page))
	}
	got, _ := svc.GetConversation(ctx, "bob", conv.ID)
	if got.UnreadFor("bob") != 1 {
		t.Errorf("retry bumped unread to %d, want 1", got.UnreadFor("bob"))
	}
}

func TestSend_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")

	_, err := svc.Send(ctx, messaging.SendInput{
		ConversationID:  conv.ID,
		SenderID:        "alice",
		ClientMessageID: "c1",
		Content:         "   ",
	})
	if !chat.IsValidation(err) {
		t.Errorf("empty content error = %v, want ValidationError", err)
	}
}

func TestSend_RateLimited(t *testing.T) {
	events := &capture{}
	svc := messaging.NewService(messaging.ServiceConfig{
		Store:       memory.NewStore(),
		Events:      events,
		SendLimiter: messaging.NewWindowLimiter(2, time.Minute),
	})
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")

	for i := 0; i < 2; i++ {
		if _, err := svc.Send(ctx, messaging.SendInput{
			ConversationID:  conv.ID,
			SenderID:        "alice",
			ClientMessageID: fmt.Sprintf("c%d", i),
			Content:         "hi",
		}); err != nil {
			t.Fatalf("Send() %d error: %v", i, err)
		}
	}
	_, err := svc.Send(ctx, messaging.SendInput{
		ConversationID:  conv.ID,
		SenderID:        "alice",
		ClientMessageID: "c9",
		Content:         "over the line",
	})
	if !errors.Is(err, chat.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}

func TestAuthorization_CollapsesToNotFound(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")

	if _, err := svc.GetConversation(ctx, "mallory", conv.ID); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("outsider error = %v, want ErrNotFound", err)
	}
	if _, _, err := svc.LoadPage(ctx, "mallory", conv.ID, "", 10); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("outsider LoadPage error = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetConversation(ctx, "alice", "no-such-id"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("absent conversation error = %v, want ErrNotFound", err)
	}
}

func TestArchive_TogglesPerParticipant(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")
	if _, err := svc.Send(ctx, messaging.SendInput{ConversationID: conv.ID, SenderID: "alice", ClientMessageID: "c1", Content: "hi"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	archived, err := svc.Archive(ctx, "bob", conv.ID)
	if err != nil || !archived {
		t.Fatalf("Archive() = %v, %v; want true", archived, err)
	}
	bobList, _ := svc.ListConversations(ctx, "bob", false)
	if len(bobList) != 0 {
		t.Errorf("bob's default list has %d conversations, want 0 after archive", len(bobList))
	}
	aliceList, _ := svc.ListConversations(ctx, "alice", false)
	if len(aliceList) != 1 {
		t.Errorf("alice's list has %d conversations; archive must stay invisible to others", len(aliceList))
	}

	archived, _ = svc.Archive(ctx, "bob", conv.ID)
	if archived {
		t.Error("second toggle should unarchive")
	}
}

func TestDelete_Modes(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")
	msg, _ := svc.Send(ctx, messaging.SendInput{ConversationID: conv.ID, SenderID: "alice", ClientMessageID: "c1", Content: "oops"})

	// recipient cannot delete for everyone
	if _, err := svc.Delete(ctx, "bob", msg.ID, messaging.DeleteForEveryone); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("non-sender forEveryone error = %v, want ErrNotFound", err)
	}

	// forMe hides only for the requester
	if _, err := svc.Delete(ctx, "bob", msg.ID, messaging.DeleteForMe); err != nil {
		t.Fatalf("Delete(forMe) error: %v", err)
	}
	bobPage, _, _ := svc.LoadPage(ctx, "bob", conv.ID, "", 10)
	if len(bobPage) != 0 {
		t.Errorf("bob still sees %d messages, want 0", len(bobPage))
	}
	alicePage, _, _ := svc.LoadPage(ctx, "alice", conv.ID, "", 10)
	if len(alicePage) != 1 {
		t.Errorf("alice sees %d messages, want 1", len(alicePage))
	}

	// sender tombstones within the window
	if _, err := svc.Delete(ctx, "alice", msg.ID, messaging.DeleteForEveryone); err != nil {
		t.Fatalf("Delete(forEveryone) error: %v", err)
	}
	alicePage, _, _ = svc.LoadPage(ctx, "alice", conv.ID, "", 10)
	if len(alicePage) != 1 || !alicePage[0].Tombstoned || alicePage[0].Content != "" {
		t.Errorf("tombstone not visible in place: %+v", alicePage[0])
	}
}

func TestDelete_WindowElapsed(t *testing.T) {
	current := time.Now()
	svc := messaging.NewService(messaging.ServiceConfig{
		Store:        memory.NewStore(),
		DeleteWindow: time.Hour,
		Now:          func() time.Time { return current },
	})
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")
	msg, _ := svc.Send(ctx, messaging.SendInput{ConversationID: conv.ID, SenderID: "alice", ClientMessageID: "c1", Content: "old"})

	current = current.Add(2 * time.Hour)
	if _, err := svc.Delete(ctx, "alice", msg.ID, messaging.DeleteForEveryone); !chat.IsValidation(err) {
		t.Errorf("late delete error = %v, want ValidationError", err)
	}
}

func TestSearch(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	direct, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")
	if _, err := svc.Send(ctx, messaging.SendInput{ConversationID: direct.ID, SenderID: "bob", ClientMessageID: "c1", Content: "quarterly report attached"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	group, err := svc.CreateGroup(ctx, "alice", "hiring", []string{"carol"})
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	tests := []struct {
		term string
		want []string
	}{
		{"REPORT", []string{direct.ID}},        // last-message content, case-insensitive
		{"osei", []string{direct.ID}},          // participant name
		{"hiring", []string{group.ID}},         // group name
		{"", []string{direct.ID, group.ID}},    // blank matches everything
		{"zzz", nil},                           // no match
	}
	for _, tt := range tests {
		got, err := svc.Search(ctx, "alice", tt.term)
		if err != nil {
			t.Fatalf("Search(%q) error: %v", tt.term, err)
		}
		ids := make(map[string]bool, len(got))
		for _, c := range got {
			ids[c.ID] = true
		}
		if len(got) != len(tt.want) {
			t.Errorf("Search(%q) returned %d results, want %d", tt.term, len(got), len(tt.want))
			continue
		}
		for _, id := range tt.want {
			if !ids[id] {
				t.Errorf("Search(%q) missing conversation %s", tt.term, id)
			}
		}
	}
}

func TestMarkDelivered_EmitsAcks(t *testing.T) {
	svc, events := newService(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreateDirect(ctx, "alice", "bob")
	msg, _ := svc.Send(ctx, messaging.SendInput{ConversationID: conv.ID, SenderID: "alice", ClientMessageID: "c1", Content: "hi"})

	svc.MarkDelivered(ctx, "bob", conv.ID, msg.ID)
	svc.MarkDelivered(ctx, "bob", conv.ID, msg.ID) // idempotent

	delivered := 0
	for _, k := range events.kinds() {
		if k == chat.EventMessageDelivered {
			delivered++
		}
	}
	if delivered != 1 {
		t.Errorf("delivered acks = %d, want exactly 1", delivered)
	}
}
