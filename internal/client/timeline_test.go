package client

import (
	"testing"
	"time"

	"messenger/internal/domain/chat"
)

func serverMessage(id, clientID, content string, at time.Time) *chat.Message {
	return &chat.Message{
		ID:              id,
		ConversationID:  "c1",
		SenderID:        "alice",
		ClientMessageID: clientID,
		Content:         content,
		CreatedAt:       at,
	}
}

func TestTimelineReconcileKeepsPosition(t *testing.T) {
	tl := NewTimeline()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tl.Apply(serverMessage("m1", "", "first", base))
	local := &chat.Message{
		ConversationID:  "c1",
		SenderID:        "alice",
		ClientMessageID: "local-1",
		Content:         "optimistic",
		CreatedAt:       base.Add(time.Second),
	}
	tl.AppendLocal(local)
	tl.Apply(serverMessage("m2", "", "third", base.Add(2*time.Second)))

	entries := tl.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	optimisticIdx := -1
	for i, e := range entries {
		if e.LocalID == "local-1" {
			optimisticIdx = i
		}
	}

	// server ack arrives with the canonical row
	acked := serverMessage("m-acked", "local-1", "optimistic", base.Add(time.Second))
	tl.Apply(acked)

	entries = tl.Entries()
	if len(entries) != 3 {
		t.Fatalf("after ack entries = %d, want 3 (no duplicate)", len(entries))
	}
	for i, e := range entries {
		if e.LocalID == "local-1" {
			if i != optimisticIdx {
				t.Fatalf("acked row moved from %d to %d", optimisticIdx, i)
			}
			if e.Message.ID != "m-acked" {
				t.Fatalf("row not reconciled, id = %q", e.Message.ID)
			}
			if e.Display != chat.StatusSent {
				t.Fatalf("display = %q, want sent", e.Display)
			}
		}
	}
}

func TestTimelineStatusNeverRegresses(t *testing.T) {
	tl := NewTimeline()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl.Apply(serverMessage("m1", "", "hi", at))

	steps := []struct {
		next    chat.DeliveryStatus
		applied bool
		display chat.DeliveryStatus
	}{
		{chat.StatusRead, true, chat.StatusRead},
		{chat.StatusDelivered, false, chat.StatusRead}, // stale ack after read
		{chat.StatusSent, false, chat.StatusRead},
	}
	for _, step := range steps {
		applied := tl.AdvanceStatus("m1", step.next)
		if applied != step.applied {
			t.Fatalf("AdvanceStatus(%q) applied = %v, want %v", step.next, applied, step.applied)
		}
		if got := tl.Entries()[0].Display; got != step.display {
			t.Fatalf("display after %q = %q, want %q", step.next, got, step.display)
		}
	}
}

func TestTimelineFailedAndRetry(t *testing.T) {
	tl := NewTimeline()
	local := &chat.Message{
		ConversationID:  "c1",
		SenderID:        "alice",
		ClientMessageID: "local-1",
		Content:         "hello",
		CreatedAt:       time.Now(),
	}
	tl.AppendLocal(local)

	if !tl.MarkFailed("local-1") {
		t.Fatal("MarkFailed returned false")
	}
	entry, ok := tl.MarkRetrying("local-1")
	if !ok {
		t.Fatal("MarkRetrying returned false")
	}
	if entry.Display != chat.StatusSending || entry.Failed {
		t.Fatalf("after retry display = %q failed = %v", entry.Display, entry.Failed)
	}

	// late ack lands while retrying
	tl.Apply(serverMessage("m1", "local-1", "hello", local.CreatedAt))
	if got := tl.Entries()[0].Display; got != chat.StatusSent {
		t.Fatalf("display after ack = %q, want sent", got)
	}
}

func TestTimelineLateAckAfterFailure(t *testing.T) {
	tl := NewTimeline()
	local := &chat.Message{
		ConversationID:  "c1",
		SenderID:        "alice",
		ClientMessageID: "local-1",
		Content:         "hello",
		CreatedAt:       time.Now(),
	}
	tl.AppendLocal(local)
	tl.MarkFailed("local-1")

	tl.Apply(serverMessage("m1", "local-1", "hello", local.CreatedAt))
	entry := tl.Entries()[0]
	if entry.Display != chat.StatusSent {
		t.Fatalf("display = %q, want sent after late ack", entry.Display)
	}
	if entry.Failed {
		t.Fatal("entry still flagged failed after late ack")
	}
}

func TestTimelinePrependOlderHealsMissedReceipts(t *testing.T) {
	tl := NewTimeline()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl.Apply(serverMessage("m1", "", "hi", at))
	if got := tl.Entries()[0].Display; got != chat.StatusSent {
		t.Fatalf("display = %q before refetch, want sent", got)
	}

	// the same row comes back from a history refetch with a read
	// receipt the socket never delivered
	read := serverMessage("m1", "", "hi", at)
	read.ReadBy = []chat.Receipt{{UserID: "bob", At: at.Add(time.Minute)}}
	tl.PrependOlder([]*chat.Message{read})

	entries := tl.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if got := entries[0].Display; got != chat.StatusRead {
		t.Fatalf("display after refetch = %q, want read", got)
	}
}

func TestTimelinePrependOlderHealsTombstone(t *testing.T) {
	tl := NewTimeline()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl.Apply(serverMessage("m1", "", "hi", at))

	deleted := serverMessage("m1", "", "", at)
	deleted.Tombstoned = true
	tl.PrependOlder([]*chat.Message{deleted})

	if !tl.Entries()[0].Message.Tombstoned {
		t.Fatal("tombstone from refetched page not applied")
	}
}

func TestTimelinePrependOlderDeduplicates(t *testing.T) {
	tl := NewTimeline()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl.Apply(serverMessage("m3", "", "newest", base.Add(2*time.Second)))

	batch := []*chat.Message{
		serverMessage("m3", "", "newest", base.Add(2*time.Second)), // overlap
		serverMessage("m2", "", "middle", base.Add(time.Second)),
		serverMessage("m1", "", "oldest", base),
	}
	added := tl.PrependOlder(batch)
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	entries := tl.Entries()
	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		if entries[i].Message.ID != id {
			t.Fatalf("entries[%d] = %q, want %q", i, entries[i].Message.ID, id)
		}
	}
}
