package chat

import "time"

// EventKind tags the inbound event variants consumed by clients.
type EventKind string

const (
	EventMessageNew          EventKind = "message:new"
	EventMessageDelivered    EventKind = "message:delivered"
	EventMessageRead         EventKind = "message:read"
	EventTypingStart         EventKind = "typing:start"
	EventTypingStop          EventKind = "typing:stop"
	EventConversationUpdated EventKind = "conversation:updated"
)

// Event is the tagged variant pushed to connected participants. Events
// about the same message are causally ordered; nothing is guaranteed
// across messages or conversations, so consumers apply them idempotently.
type Event struct {
	Kind           EventKind     `json:"kind"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	At             time.Time     `json:"at"`
}

// NewMessageEvent announces a freshly persisted message.
func NewMessageEvent(m *Message) Event {
	return Event{
		Kind:           EventMessageNew,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Message:        m,
		At:             m.CreatedAt,
	}
}

// DeliveryAckEvent announces that userID's client received the message.
func DeliveryAckEvent(conversationID, messageID, userID string, at time.Time) Event {
	return Event{
		Kind:           EventMessageDelivered,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		At:             at.UTC(),
	}
}

// ReadAckEvent announces that userID saw the message.
func ReadAckEvent(conversationID, messageID, userID string, at time.Time) Event {
	return Event{
		Kind:           EventMessageRead,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		At:             at.UTC(),
	}
}

// TypingEvent announces start or stop of a typist.
func TypingEvent(kind EventKind, conversationID, userID string, at time.Time) Event {
	return Event{
		Kind:           kind,
		ConversationID: conversationID,
		UserID:         userID,
		At:             at.UTC(),
	}
}

// ConversationUpdatedEvent carries refreshed conversation metadata.
func ConversationUpdatedEvent(c *Conversation, at time.Time) Event {
	return Event{
		Kind:           EventConversationUpdated,
		ConversationID: c.ID,
		Conversation:   c,
		At:             at.UTC(),
	}
}
