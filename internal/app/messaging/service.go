package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"messenger/internal/domain/chat"
)

// DeleteMode selects the scope of a message delete.
type DeleteMode string

const (
	DeleteForMe       DeleteMode = "for_me"
	DeleteForEveryone DeleteMode = "for_everyone"
)

const (
	defaultPageLimit    = 50
	maxPageLimit        = 200
	defaultDeleteWindow = time.Hour
)

// SendInput carries everything needed to append a message.
type SendInput struct {
	ConversationID  string
	SenderID        string
	ClientMessageID string
	Content         string
	Attachments     []chat.Attachment
	ReplyTo         string
}

// Service composes the conversation directory, the message store and the
// real-time fan-out behind the request operations.
type Service struct {
	store        Store
	events       Broadcaster
	directory    Directory
	notifier     Notifier
	sendLimiter  Limiter
	deleteWindow time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// ServiceConfig wires the service's collaborators. Only Store is
// mandatory; everything else degrades gracefully.
type ServiceConfig struct {
	Store        Store
	Events       Broadcaster
	Directory    Directory
	Notifier     Notifier
	SendLimiter  Limiter
	DeleteWindow time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// NewService builds a Service with defaults applied.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil {
		panic("messaging: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	window := cfg.DeleteWindow
	if window <= 0 {
		window = defaultDeleteWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        cfg.Store,
		events:       cfg.Events,
		directory:    cfg.Directory,
		notifier:     cfg.Notifier,
		sendLimiter:  cfg.SendLimiter,
		deleteWindow: window,
		now:          now,
		logger:       logger,
	}
}

// ListConversations returns the caller's conversations ordered by last
// activity, optionally including archived ones.
func (s *Service) ListConversations(ctx context.Context, userID string, includeArchived bool) ([]*chat.Conversation, error) {
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if includeArchived {
		return conversations, nil
	}
	out := conversations[:0]
	for _, conv := range conversations {
		if !conv.ArchivedFor(userID) {
			out = append(out, conv)
		}
	}
	return out, nil
}

// Search filters the caller's conversations by participant display name
// or last-message content, case-insensitive substring.
func (s *Service) Search(ctx context.Context, userID, term string) ([]*chat.Conversation, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	conversations, err := s.ListConversations(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	if term == "" {
		return conversations, nil
	}
	matched := make([]*chat.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if s.matches(ctx, conv, userID, term) {
			matched = append(matched, conv)
		}
	}
	return matched, nil
}

func (s *Service) matches(ctx context.Context, conv *chat.Conversation, userID, term string) bool {
	if strings.Contains(strings.ToLower(conv.Name), term) {
		return true
	}
	if conv.LastMessage != nil && strings.Contains(strings.ToLower(conv.LastMessage.Content), term) {
		return true
	}
	if s.directory == nil {
		return false
	}
	for _, p := range conv.Recipients(userID) {
		profile, err := s.directory.Profile(ctx, p)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(profile.Name), term) {
			return true
		}
	}
	return false
}

// GetConversation loads a conversation the caller participates in.
// Absence and non-membership both come back as chat.ErrNotFound.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*chat.Conversation, error) {
	return s.authorize(ctx, userID, conversationID)
}

// GetOrCreateDirect returns the unique direct conversation for the pair,
// creating it on first use. Concurrent callers converge on one id: the
// duplicate-key race is absorbed by re-querying, never surfaced.
func (s *Service) GetOrCreateDirect(ctx context.Context, userID, peerID string) (*chat.Conversation, error) {
	conv, err := chat.NewDirect(userID, peerID, s.now())
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.FindDirect(ctx, conv.DirectKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, chat.ErrNotFound) {
		return nil, err
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, chat.ErrConflict) {
			// lost the creation race; the winner's row is authoritative
			return s.store.FindDirect(ctx, conv.DirectKey)
		}
		return nil, err
	}
	s.logger.Info("conversation created", "id", conv.ID, "type", conv.Type)
	return conv, nil
}

// CreateGroup starts a named group conversation.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, members []string) (*chat.Conversation, error) {
	conv, err := chat.NewGroup(creatorID, name, members, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("conversation created", "id", conv.ID, "type", conv.Type, "participants", len(conv.Participants))
	return conv, nil
}

// Send appends a message and atomically updates the conversation summary
// and the recipients' unread counters. Retries with the same
// clientMessageID return the already-persisted message.
func (s *Service) Send(ctx context.Context, in SendInput) (*chat.Message, error) {
	if s.sendLimiter != nil {
		ok, err := s.sendLimiter.Allow(ctx, "send:"+in.SenderID)
		if err != nil {
			s.logger.Warn("send limiter unavailable", "error", err)
		} else if !ok {
			return nil, chat.ErrRateLimited
		}
	}
	conv, err := s.authorize(ctx, in.SenderID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.FindByClientID(ctx, conv.ID, in.SenderID, in.ClientMessageID); err == nil {
		return existing, nil
	} else if !errors.Is(err, chat.ErrNotFound) {
		return nil, err
	}

	msg, err := chat.NewMessage(conv.ID, in.SenderID, in.ClientMessageID, in.Content, in.Attachments, in.ReplyTo, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, chat.ErrConflict) {
			// a concurrent retry of the same send won; hand back its row
			return s.store.FindByClientID(ctx, conv.ID, in.SenderID, in.ClientMessageID)
		}
		return nil, err
	}

	conv.RecordMessage(msg)
	s.publish(ctx, conv.Participants, chat.NewMessageEvent(msg))
	s.publish(ctx, conv.Participants, chat.ConversationUpdatedEvent(conv, msg.CreatedAt))
	s.notifyRecipients(conv, msg)
	return msg, nil
}

// LoadPage returns up to limit messages strictly older than the cursor,
// newest first, shaped for the requester. The next cursor points at the
// oldest message of the returned page.
func (s *Service) LoadPage(ctx context.Context, userID, conversationID, rawCursor string, limit int) ([]*chat.Message, string, error) {
	conv, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, "", err
	}
	cursor, err := chat.ParseCursor(rawCursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	page := make([]*chat.Message, 0, limit)
	next := ""
	for len(page) < limit {
		size := limit - len(page)
		batch, err := s.store.ListOlder(ctx, conv.ID, cursor, size)
		if err != nil {
			return nil, "", err
		}
		if len(batch) == 0 {
			next = ""
			break
		}
		oldest := batch[len(batch)-1]
		cursor = chat.CursorFor(oldest)
		next = cursor.String()
		for _, msg := range batch {
			if msg.VisibleTo(userID) {
				page = append(page, msg)
			}
		}
		if len(batch) < size {
			next = ""
			break
		}
	}
	return page, next, nil
}

// MarkRead zeroes the caller's unread counter and applies read receipts
// up to messageID. Receipt application is idempotent; re-reads are no-ops.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID, messageID string) error {
	conv, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	at := s.now()
	changed, err := s.store.MarkRead(ctx, conv.ID, userID, messageID, at)
	if err != nil {
		return err
	}
	for _, id := range changed {
		s.publish(ctx, conv.Participants, chat.ReadAckEvent(conv.ID, id, userID, at))
	}
	return nil
}

// MarkDelivered records delivery receipts up to messageID. Best-effort:
// a failure is logged, never surfaced, and self-heals on the next
// reconnect reconciliation.
func (s *Service) MarkDelivered(ctx context.Context, userID, conversationID, messageID string) {
	conv, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return
	}
	at := s.now()
	changed, err := s.store.MarkDelivered(ctx, conv.ID, userID, messageID, at)
	if err != nil {
		s.logger.Warn("delivery receipt failed", "error", err, "conversation_id", conv.ID, "user_id", userID)
		return
	}
	for _, id := range changed {
		s.publish(ctx, conv.Participants, chat.DeliveryAckEvent(conv.ID, id, userID, at))
	}
}

// Archive toggles the caller's archive flag and returns the new value.
// Other participants never see the flag.
func (s *Service) Archive(ctx context.Context, userID, conversationID string) (bool, error) {
	conv, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return false, err
	}
	archived := !conv.ArchivedFor(userID)
	if err := s.store.SetArchived(ctx, conv.ID, userID, archived); err != nil {
		return false, err
	}
	return archived, nil
}

// Delete removes a message for the requester or, within the delete
// window and only for its sender, rewrites it to a tombstone for all.
func (s *Service) Delete(ctx context.Context, userID, messageID string, mode DeleteMode) (*chat.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.authorize(ctx, userID, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	at := s.now()
	switch mode {
	case DeleteForMe:
		msg.HideFor(userID)
	case DeleteForEveryone:
		if msg.SenderID != userID {
			return nil, chat.ErrNotFound
		}
		if at.Sub(msg.CreatedAt) > s.deleteWindow {
			return nil, chat.ValidationError{Field: "message", Reason: "delete window elapsed"}
		}
		msg.Tombstone(at)
	default:
		return nil, chat.ValidationError{Field: "mode", Reason: "unknown delete mode"}
	}
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if mode == DeleteForEveryone {
		s.refreshSummary(ctx, conv, msg, "")
	}
	return msg, nil
}

// Edit replaces a message's content. Sender-only, bounded by the same
// window as delete-for-everyone.
func (s *Service) Edit(ctx context.Context, userID, messageID, content string) (*chat.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.authorize(ctx, userID, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, chat.ErrNotFound
	}
	at := s.now()
	if at.Sub(msg.CreatedAt) > s.deleteWindow {
		return nil, chat.ValidationError{Field: "message", Reason: "edit window elapsed"}
	}
	if err := msg.Edit(content, at); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.refreshSummary(ctx, conv, msg, msg.Content)
	return msg, nil
}

func (s *Service) refreshSummary(ctx context.Context, conv *chat.Conversation, msg *chat.Message, content string) {
	if conv.LastMessage == nil || conv.LastMessage.MessageID != msg.ID {
		return
	}
	conv.LastMessage.Content = chat.TrimSnippet(content, 500)
	if err := s.store.UpdateSummary(ctx, conv.ID, conv.LastMessage); err != nil {
		s.logger.Warn("summary refresh failed", "error", err, "conversation_id", conv.ID)
		return
	}
	s.publish(ctx, conv.Participants, chat.ConversationUpdatedEvent(conv, s.now()))
}

func (s *Service) authorize(ctx context.Context, userID, conversationID string) (*chat.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		// indistinguishable from absence on purpose
		return nil, chat.ErrNotFound
	}
	return conv, nil
}

func (s *Service) publish(ctx context.Context, participants []string, ev chat.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, participants, ev); err != nil {
		s.logger.Warn("event publish failed", "error", err, "kind", ev.Kind, "conversation_id", ev.ConversationID)
	}
}

func (s *Service) notifyRecipients(conv *chat.Conversation, msg *chat.Message) {
	if s.notifier == nil {
		return
	}
	preview := chat.TrimSnippet(msg.Content, 120)
	recipients := conv.Recipients(msg.SenderID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for _, userID := range recipients {
			if err := s.notifier.NotifyUnread(ctx, userID, conv.ID, preview); err != nil {
				s.logger.Debug("unread notification failed", "error", err, "user_id", userID)
			}
		}
	}()
}
