package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttachmentType narrows what a message may carry alongside text.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is owned and embedded by its message, never mutated on its own.
type Attachment struct {
	Type     AttachmentType `json:"type" bson:"type"`
	URL      string         `json:"url" bson:"url"`
	Filename string         `json:"filename" bson:"filename"`
	Size     int64          `json:"size" bson:"size"`
}

// Receipt records one recipient acknowledging delivery or read.
type Receipt struct {
	UserID string    `json:"user_id" bson:"user_id"`
	At     time.Time `json:"at" bson:"at"`
}

// Message is a single entry in a conversation log. After creation it is
// mutated only by receipt application, edits and delete operations.
type Message struct {
	ID              string       `json:"id" bson:"_id"`
	ConversationID  string       `json:"conversation_id" bson:"conversation_id"`
	SenderID        string       `json:"sender_id" bson:"sender_id"`
	ClientMessageID string       `json:"client_message_id" bson:"client_message_id"`
	Content         string       `json:"content" bson:"content"`
	Attachments     []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty"`
	ReplyTo         string       `json:"reply_to,omitempty" bson:"reply_to,omitempty"`
	CreatedAt       time.Time    `json:"created_at" bson:"created_at"`
	EditedAt        time.Time    `json:"edited_at,omitempty" bson:"edited_at,omitempty"`
	DeliveredTo     []Receipt    `json:"delivered_to,omitempty" bson:"delivered_to,omitempty"`
	ReadBy          []Receipt    `json:"read_by,omitempty" bson:"read_by,omitempty"`
	DeletedFor      []string     `json:"-" bson:"deleted_for,omitempty"`
	Tombstoned      bool         `json:"deleted_for_everyone,omitempty" bson:"deleted_for_everyone"`
}

// NewMessage validates and builds an unsaved message in sent state.
func NewMessage(conversationID, senderID, clientMessageID, content string, attachments []Attachment, replyTo string, now time.Time) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return nil, ValidationError{Field: "content", Reason: "empty message without attachments"}
	}
	for _, a := range attachments {
		if a.Type != AttachmentImage && a.Type != AttachmentFile {
			return nil, ValidationError{Field: "attachments", Reason: "unknown attachment type"}
		}
		if a.URL == "" {
			return nil, ValidationError{Field: "attachments", Reason: "attachment url required"}
		}
	}
	if clientMessageID = strings.TrimSpace(clientMessageID); clientMessageID == "" {
		return nil, ValidationError{Field: "client_message_id", Reason: "required"}
	}
	return &Message{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		SenderID:        senderID,
		ClientMessageID: clientMessageID,
		Content:         content,
		Attachments:     attachments,
		ReplyTo:         replyTo,
		CreatedAt:       now.UTC(),
	}, nil
}

// Before orders messages by (createdAt, id), the total order within a
// conversation.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// MarkDelivered appends userID to the delivered set. Returns false when
// the receipt was already applied or the user is the sender, so callers
// can skip redundant broadcasts.
func (m *Message) MarkDelivered(userID string, at time.Time) bool {
	if userID == m.SenderID || hasReceipt(m.DeliveredTo, userID) {
		return false
	}
	m.DeliveredTo = append(m.DeliveredTo, Receipt{UserID: userID, At: at.UTC()})
	return true
}

// MarkRead appends userID to the read set. A read implies delivery.
func (m *Message) MarkRead(userID string, at time.Time) bool {
	if userID == m.SenderID || hasReceipt(m.ReadBy, userID) {
		return false
	}
	m.MarkDelivered(userID, at)
	m.ReadBy = append(m.ReadBy, Receipt{UserID: userID, At: at.UTC()})
	return true
}

// Status aggregates the sender-visible state using the any-recipient
// policy: delivered/read as soon as the respective set is non-empty.
func (m *Message) Status() DeliveryStatus {
	switch {
	case len(m.ReadBy) > 0:
		return StatusRead
	case len(m.DeliveredTo) > 0:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Tombstone rewrites the message into a placeholder for every participant,
// preserving its slot in the log.
func (m *Message) Tombstone(at time.Time) {
	m.Content = ""
	m.Attachments = nil
	m.ReplyTo = ""
	m.Tombstoned = true
	m.EditedAt = at.UTC()
}

// HideFor soft-deletes the message for one requester only.
func (m *Message) HideFor(userID string) {
	for _, u := range m.DeletedFor {
		if u == userID {
			return
		}
	}
	m.DeletedFor = append(m.DeletedFor, userID)
}

// VisibleTo reports whether the requester still sees this message.
// Tombstones stay visible to everyone as placeholders.
func (m *Message) VisibleTo(userID string) bool {
	for _, u := range m.DeletedFor {
		if u == userID {
			return false
		}
	}
	return true
}

// Edit replaces the content and stamps editedAt.
func (m *Message) Edit(content string, at time.Time) error {
	content = strings.TrimSpace(content)
	if content == "" && len(m.Attachments) == 0 {
		return ValidationError{Field: "content", Reason: "empty message without attachments"}
	}
	if m.Tombstoned {
		return ValidationError{Field: "message", Reason: "cannot edit a deleted message"}
	}
	m.Content = content
	m.EditedAt = at.UTC()
	return nil
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	cp.DeliveredTo = append([]Receipt(nil), m.DeliveredTo...)
	cp.ReadBy = append([]Receipt(nil), m.ReadBy...)
	cp.DeletedFor = append([]string(nil), m.DeletedFor...)
	return &cp
}

func hasReceipt(receipts []Receipt, userID string) bool {
	for _, r := range receipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
