package chat

import (
	"testing"
	"time"
)

func TestNewMessage_Validation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name        string
		content     string
		attachments []Attachment
		clientID    string
		expectError bool
	}{
		{"plain text", "hi", nil, "c1", false},
		{"attachment only", "", []Attachment{{Type: AttachmentImage, URL: "http://x/y.png", Filename: "y.png", Size: 10}}, "c2", false},
		{"empty without attachments", "   ", nil, "c3", true},
		{"missing client id", "hi", nil, "", true},
		{"unknown attachment type", "", []Attachment{{Type: "video", URL: "http://x"}}, "c4", true},
		{"attachment without url", "", []Attachment{{Type: AttachmentFile}}, "c5", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMessage("conv", "alice", tt.clientID, tt.content, tt.attachments, "", now)
			if tt.expectError && err == nil {
				t.Error("expected a validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.expectError && err != nil && !IsValidation(err) {
				t.Errorf("error should be ValidationError, got %T", err)
			}
		})
	}
}

func TestReceipts_GrowOnly(t *testing.T) {
	now := time.Now()
	msg, err := NewMessage("conv", "alice", "c1", "hi", nil, "", now)
	if err != nil {
		t.Fatalf("NewMessage() unexpected error: %v", err)
	}

	if msg.Status() != StatusSent {
		t.Fatalf("fresh message status = %s, want sent", msg.Status())
	}
	if !msg.MarkDelivered("bob", now) {
		t.Error("first delivery receipt should apply")
	}
	if msg.MarkDelivered("bob", now.Add(time.Second)) {
		t.Error("re-applying a delivery receipt must be a no-op")
	}
	if msg.MarkDelivered("alice", now) {
		t.Error("the sender never appears in its own delivered set")
	}
	if msg.Status() != StatusDelivered {
		t.Errorf("status = %s, want delivered", msg.Status())
	}

	if !msg.MarkRead("carol", now) {
		t.Error("first read receipt should apply")
	}
	if msg.MarkRead("carol", now) {
		t.Error("re-applying a read receipt must be a no-op")
	}
	if msg.Status() != StatusRead {
		t.Errorf("status = %s, want read (any-recipient policy)", msg.Status())
	}
	// a read implies delivery for the same user
	if !hasReceipt(msg.DeliveredTo, "carol") {
		t.Error("read receipt should imply a delivery receipt")
	}
	if len(msg.DeliveredTo) != 2 || len(msg.ReadBy) != 1 {
		t.Errorf("receipt sets delivered=%d read=%d, want 2/1", len(msg.DeliveredTo), len(msg.ReadBy))
	}
}

func TestTombstoneAndHide(t *testing.T) {
	now := time.Now()
	msg, _ := NewMessage("conv", "alice", "c1", "secret", []Attachment{{Type: AttachmentFile, URL: "http://x/f", Filename: "f", Size: 1}}, "", now)

	msg.HideFor("bob")
	msg.HideFor("bob")
	if msg.VisibleTo("bob") {
		t.Error("hidden message should be invisible to the requester")
	}
	if !msg.VisibleTo("carol") {
		t.Error("per-user hide must not affect other participants")
	}

	msg.Tombstone(now.Add(time.Minute))
	if !msg.Tombstoned || msg.Content != "" || len(msg.Attachments) != 0 {
		t.Errorf("tombstone should clear content, got %+v", msg)
	}
	if err := msg.Edit("new text", now); err == nil {
		t.Error("editing a tombstone should be rejected")
	}
}

func TestMessageOrdering(t *testing.T) {
	now := time.Now()
	a, _ := NewMessage("conv", "alice", "c1", "first", nil, "", now)
	b, _ := NewMessage("conv", "alice", "c2", "second", nil, "", now.Add(time.Millisecond))
	if !a.Before(b) || b.Before(a) {
		t.Error("createdAt should dominate the ordering")
	}

	c, _ := NewMessage("conv", "alice", "c3", "tie", nil, "", now)
	// identical timestamps fall back to id
	aFirst := a.Before(c)
	cFirst := c.Before(a)
	if aFirst == cFirst {
		t.Error("id tiebreak must order equal timestamps deterministically")
	}
}

func TestCursorRoundTrip(t *testing.T) {
	now := time.Now()
	msg, _ := NewMessage("conv", "alice", "c1", "hi", nil, "", now)

	cur := CursorFor(msg)
	parsed, err := ParseCursor(cur.String())
	if err != nil {
		t.Fatalf("ParseCursor() unexpected error: %v", err)
	}
	if parsed.MessageID != msg.ID || !parsed.CreatedAt.Equal(msg.CreatedAt) {
		t.Errorf("round trip mismatch: %+v vs %+v", parsed, cur)
	}
	if parsed.Admits(msg) {
		t.Error("a cursor must not admit the message it points at")
	}

	older, _ := NewMessage("conv", "alice", "c0", "older", nil, "", now.Add(-time.Second))
	if !parsed.Admits(older) {
		t.Error("strictly older messages belong to the page")
	}

	if _, err := ParseCursor("garbage"); err == nil {
		t.Error("malformed cursor should be rejected")
	}
	empty, err := ParseCursor("  ")
	if err != nil || !empty.IsZero() {
		t.Errorf("blank cursor should parse to the zero cursor, got %+v err=%v", empty, err)
	}
}
