package chat

import (
	"testing"
	"time"
)

func TestDirectKey_Unordered(t *testing.T) {
	if DirectKey("alice", "bob") != DirectKey("bob", "alice") {
		t.Error("direct key must be identical for both orderings of the pair")
	}
	if DirectKey("alice", "bob") == DirectKey("alice", "carol") {
		t.Error("distinct pairs must not collide")
	}
}

func TestNewDirect(t *testing.T) {
	now := time.Now()

	conv, err := NewDirect("bob", "alice", now)
	if err != nil {
		t.Fatalf("NewDirect() unexpected error: %v", err)
	}
	if conv.Type != ConversationDirect {
		t.Errorf("type = %s, want direct", conv.Type)
	}
	if len(conv.Participants) != 2 || conv.Participants[0] != "alice" || conv.Participants[1] != "bob" {
		t.Errorf("participants = %v, want sorted [alice bob]", conv.Participants)
	}
	if conv.DirectKey != "alice|bob" {
		t.Errorf("direct key = %q, want alice|bob", conv.DirectKey)
	}

	if _, err := NewDirect("alice", "alice", now); err == nil {
		t.Error("self-conversation should be rejected")
	}
	if _, err := NewDirect("", "bob", now); err == nil {
		t.Error("empty participant should be rejected")
	}
}

func TestNewGroup(t *testing.T) {
	now := time.Now()

	conv, err := NewGroup("alice", "founders", []string{"bob", "carol", "bob", " "}, now)
	if err != nil {
		t.Fatalf("NewGroup() unexpected error: %v", err)
	}
	if len(conv.Participants) != 3 {
		t.Errorf("participants = %v, want deduplicated trio", conv.Participants)
	}

	if _, err := NewGroup("alice", "solo", nil, now); err == nil {
		t.Error("a group with a single participant should be rejected")
	}
	if _, err := NewGroup("alice", "", []string{"bob"}, now); err == nil {
		t.Error("a group without a name should be rejected")
	}
}

func TestRecordMessage(t *testing.T) {
	now := time.Now()
	conv, err := NewGroup("alice", "team", []string{"bob", "carol"}, now)
	if err != nil {
		t.Fatalf("NewGroup() unexpected error: %v", err)
	}

	msg, err := NewMessage(conv.ID, "alice", "c1", "Hello", nil, "", now.Add(time.Second))
	if err != nil {
		t.Fatalf("NewMessage() unexpected error: %v", err)
	}
	conv.RecordMessage(msg)

	if conv.LastMessage == nil || conv.LastMessage.Content != "Hello" {
		t.Fatalf("last message summary not recorded: %+v", conv.LastMessage)
	}
	if !conv.LastActivity.Equal(msg.CreatedAt) {
		t.Errorf("last activity = %v, want %v", conv.LastActivity, msg.CreatedAt)
	}
	if conv.UnreadFor("bob") != 1 || conv.UnreadFor("carol") != 1 {
		t.Errorf("recipients should gain one unread each, got bob=%d carol=%d",
			conv.UnreadFor("bob"), conv.UnreadFor("carol"))
	}
	if conv.UnreadFor("alice") != 0 {
		t.Errorf("sender unread = %d, want 0", conv.UnreadFor("alice"))
	}
}
