package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationType distinguishes one-to-one threads from named groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// MessageSummary is the conversation preview shown in the directory.
type MessageSummary struct {
	MessageID string    `json:"message_id" bson:"message_id"`
	SenderID  string    `json:"sender_id" bson:"sender_id"`
	Content   string    `json:"content" bson:"content"`
	SentAt    time.Time `json:"sent_at" bson:"sent_at"`
}

// Conversation groups two or more participants and an ordered message log.
type Conversation struct {
	ID           string           `json:"id" bson:"_id"`
	Type         ConversationType `json:"type" bson:"type"`
	Participants []string         `json:"participants" bson:"participants"`
	// DirectKey is the sorted participant pair for direct conversations.
	// A uniqueness constraint on it makes get-or-create idempotent.
	DirectKey    string            `json:"-" bson:"direct_key,omitempty"`
	Name         string            `json:"name,omitempty" bson:"name,omitempty"`
	AvatarURL    string            `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	LastMessage  *MessageSummary   `json:"last_message,omitempty" bson:"last_message,omitempty"`
	LastActivity time.Time         `json:"last_activity" bson:"last_activity"`
	CreatedAt    time.Time         `json:"created_at" bson:"created_at"`
	Unread       map[string]int    `json:"-" bson:"unread"`
	Archived     map[string]bool   `json:"-" bson:"archived"`
}

// DirectKey builds the canonical key for an unordered participant pair.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// NewDirect creates an unsaved direct conversation between two users.
func NewDirect(a, b string, now time.Time) (*Conversation, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, ValidationError{Field: "participants", Reason: "two participants required"}
	}
	if a == b {
		return nil, ValidationError{Field: "participants", Reason: "cannot converse with yourself"}
	}
	participants := []string{a, b}
	sort.Strings(participants)
	return &Conversation{
		ID:           uuid.NewString(),
		Type:         ConversationDirect,
		Participants: participants,
		DirectKey:    DirectKey(a, b),
		LastActivity: now.UTC(),
		CreatedAt:    now.UTC(),
		Unread:       map[string]int{},
		Archived:     map[string]bool{},
	}, nil
}

// NewGroup creates an unsaved group conversation. The creator is always
// a participant; a group needs at least two members overall.
func NewGroup(creator, name string, members []string, now time.Time) (*Conversation, error) {
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return nil, ValidationError{Field: "creator", Reason: "required"}
	}
	if name = strings.TrimSpace(name); name == "" {
		return nil, ValidationError{Field: "name", Reason: "required"}
	}
	participants := normalizeParticipants(append([]string{creator}, members...))
	if len(participants) < 2 {
		return nil, ValidationError{Field: "participants", Reason: "a group needs at least two participants"}
	}
	return &Conversation{
		ID:           uuid.NewString(),
		Type:         ConversationGroup,
		Participants: participants,
		Name:         name,
		LastActivity: now.UTC(),
		CreatedAt:    now.UTC(),
		Unread:       map[string]int{},
		Archived:     map[string]bool{},
	}, nil
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Recipients returns every participant except the sender.
func (c *Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

// UnreadFor returns the pending unread counter for one participant.
func (c *Conversation) UnreadFor(userID string) int {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// ArchivedFor reports the per-participant archive flag.
func (c *Conversation) ArchivedFor(userID string) bool {
	if c.Archived == nil {
		return false
	}
	return c.Archived[userID]
}

// RecordMessage updates the preview, activity timestamp and the unread
// counters of every participant other than the sender.
func (c *Conversation) RecordMessage(m *Message) {
	c.LastMessage = &MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Content:   TrimSnippet(m.Content, snippetMax),
		SentAt:    m.CreatedAt,
	}
	c.LastActivity = m.CreatedAt
	if c.Unread == nil {
		c.Unread = map[string]int{}
	}
	for _, p := range c.Recipients(m.SenderID) {
		c.Unread[p]++
	}
}

const snippetMax = 500

// TrimSnippet caps preview text at max runes.
func TrimSnippet(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}

func normalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
