package dto

import "time"

// Conversation is the directory-row view of a conversation for one user.
type Conversation struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Name         string            `json:"name,omitempty"`
	Participants []string          `json:"participants"`
	DisplayNames map[string]string `json:"display_names,omitempty"`
	LastMessage  *MessageSummary   `json:"last_message,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
	UnreadCount  int               `json:"unread_count"`
	Archived     bool              `json:"archived"`
	CreatedAt    time.Time         `json:"created_at"`
}

// MessageSummary is the snippet shown in the directory row.
type MessageSummary struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Snippet   string    `json:"snippet"`
	SentAt    time.Time `json:"sent_at"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

// Message is the wire form of a chat message.
type Message struct {
	ID              string       `json:"id"`
	ConversationID  string       `json:"conversation_id"`
	SenderID        string       `json:"sender_id"`
	ClientMessageID string       `json:"client_message_id,omitempty"`
	Content         string       `json:"content"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Status          string       `json:"status"`
	DeliveredTo     []Receipt    `json:"delivered_to,omitempty"`
	ReadBy          []Receipt    `json:"read_by,omitempty"`
	Edited          bool         `json:"edited,omitempty"`
	EditedAt        time.Time    `json:"edited_at,omitzero"`
	Deleted         bool         `json:"deleted,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Receipt records one participant acknowledging a message.
type Receipt struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// MessagePage is one page of history, newest first, with the cursor for
// the next older page.
type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type SendMessageRequest struct {
	ClientMessageID string       `json:"client_message_id"`
	Content         string       `json:"content"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

type CreateDirectRequest struct {
	UserID string `json:"user_id"`
}

type CreateGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type UploadedAttachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}
