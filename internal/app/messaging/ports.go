package messaging

import (
	"context"
	"time"

	"messenger/internal/domain/chat"
)

// Store is the persistence port for conversations and messages.
// Appends to one conversation are linearizable per conversation;
// different conversations proceed independently.
type Store interface {
	// CreateConversation inserts a new conversation. Returns
	// chat.ErrConflict when a direct conversation for the same pair
	// already exists.
	CreateConversation(ctx context.Context, conv *chat.Conversation) error
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	FindDirect(ctx context.Context, directKey string) (*chat.Conversation, error)
	// ListConversations returns the user's conversations ordered by
	// lastActivity descending.
	ListConversations(ctx context.Context, userID string) ([]*chat.Conversation, error)
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error

	// AppendMessage persists the message and, in the same atomic unit,
	// updates the conversation preview, lastActivity and the unread
	// counters of the other participants. Returns chat.ErrConflict when
	// the sender already used this clientMessageID in the conversation.
	AppendMessage(ctx context.Context, msg *chat.Message) error
	FindByClientID(ctx context.Context, conversationID, senderID, clientMessageID string) (*chat.Message, error)
	GetMessage(ctx context.Context, id string) (*chat.Message, error)
	// ListOlder returns up to limit messages strictly older than the
	// cursor, newest first. A zero cursor starts from the latest message.
	ListOlder(ctx context.Context, conversationID string, cursor chat.Cursor, limit int) ([]*chat.Message, error)
	UpdateMessage(ctx context.Context, msg *chat.Message) error
	// UpdateSummary rewrites the conversation preview after an edit or a
	// tombstone of the latest message.
	UpdateSummary(ctx context.Context, conversationID string, summary *chat.MessageSummary) error

	// MarkRead zeroes the user's unread counter and appends the user to
	// the readBy set of every message up to and including messageID.
	// Returns the ids of messages whose read set actually grew.
	MarkRead(ctx context.Context, conversationID, userID, messageID string, at time.Time) ([]string, error)
	// MarkDelivered appends the user to the deliveredTo set of every
	// message up to and including messageID. Same contract as MarkRead.
	MarkDelivered(ctx context.Context, conversationID, userID, messageID string, at time.Time) ([]string, error)
}

// Broadcaster pushes an event, best-effort, to the connected clients of
// the listed participants.
type Broadcaster interface {
	Publish(ctx context.Context, participants []string, ev chat.Event) error
}

// Notifier signals "new unread" to the external notification service.
// Failures are tolerated and never fail the send.
type Notifier interface {
	NotifyUnread(ctx context.Context, userID, conversationID, preview string) error
}

// Profile is the narrow slice of identity data messaging needs.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
}

// Directory resolves user profiles. Implementations cache aggressively.
type Directory interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// Limiter bounds how often one principal may perform an action.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
