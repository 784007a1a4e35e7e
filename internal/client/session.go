package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"messenger/internal/domain/chat"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultPageSize    = 50
)

// SendRequest is an outgoing message before the server has seen it.
type SendRequest struct {
	ClientMessageID string
	Content         string
	Attachments     []chat.Attachment
}

// Gateway is the server API a session calls. Implementations speak HTTP
// to the messaging endpoints.
type Gateway interface {
	Send(ctx context.Context, conversationID string, in SendRequest) (*chat.Message, error)
	History(ctx context.Context, conversationID, cursor string, limit int) ([]*chat.Message, string, error)
	MarkRead(ctx context.Context, conversationID, messageID string) error
	MarkDelivered(ctx context.Context, conversationID, messageID string) error
}

// NameResolver turns user ids into display names for the typing
// indicator. It must not block.
type NameResolver func(userID string) string

// SessionConfig wires a session's collaborators.
type SessionConfig struct {
	UserID      string
	Gateway     Gateway
	Resolver    NameResolver
	OnChange    func(conversationID string)
	SendTimeout time.Duration
	PageSize    int
	Now         func() time.Time
	Logger      *slog.Logger
}

// Session owns one user's client-side messaging state: a timeline per
// open conversation, typing indicators and in-flight sends. All state
// mutations happen on the run loop goroutine, so events, send results
// and user commands never race.
type Session struct {
	userID      string
	gateway     Gateway
	resolver    NameResolver
	onChange    func(string)
	sendTimeout time.Duration
	pageSize    int
	now         func() time.Time
	logger      *slog.Logger

	commands chan func()
	events   chan chat.Event
	done     chan struct{}

	timelines map[string]*Timeline
	cursors   map[string]string
	typing    *TypingState
	pending   map[string]SendRequest // localID -> request, kept for retries
	convs     map[string]string      // localID -> conversationID
}

func NewSession(cfg SessionConfig) *Session {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(string) {}
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = func(string) string { return "" }
	}
	return &Session{
		userID:      cfg.UserID,
		gateway:     cfg.Gateway,
		resolver:    resolver,
		onChange:    onChange,
		sendTimeout: timeout,
		pageSize:    pageSize,
		now:         now,
		logger:      logger,
		commands:    make(chan func(), 64),
		events:      make(chan chat.Event, 256),
		done:        make(chan struct{}),
		timelines:   make(map[string]*Timeline),
		cursors:     make(map[string]string),
		typing:      NewTypingState(),
		pending:     make(map[string]SendRequest),
		convs:       make(map[string]string),
	}
}

// Run processes events and commands until ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.commands:
			cmd()
		case ev := <-s.events:
			s.applyEvent(ctx, ev)
		}
	}
}

// HandleEvent feeds a transport event into the session. Safe from any
// goroutine.
func (s *Session) HandleEvent(ev chat.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Send inserts an optimistic row and dispatches the request. It returns
// the local id the caller can use to retry. The row flips to failed if
// no ack arrives within the send timeout.
func (s *Session) Send(ctx context.Context, conversationID, content string, attachments []chat.Attachment) string {
	localID := uuid.NewString()
	req := SendRequest{
		ClientMessageID: localID,
		Content:         content,
		Attachments:     attachments,
	}
	s.do(func() {
		msg := &chat.Message{
			ConversationID:  conversationID,
			SenderID:        s.userID,
			ClientMessageID: localID,
			Content:         content,
			Attachments:     attachments,
			CreatedAt:       s.now(),
		}
		s.timeline(conversationID).AppendLocal(msg)
		s.pending[localID] = req
		s.convs[localID] = conversationID
		s.onChange(conversationID)
		s.dispatch(ctx, conversationID, localID, req)
	})
	return localID
}

// Retry re-sends a failed message with the same client message id, so
// the server can deduplicate if the original made it through.
func (s *Session) Retry(ctx context.Context, localID string) bool {
	ok := false
	s.do(func() {
		conversationID, found := s.convs[localID]
		if !found {
			return
		}
		req, found := s.pending[localID]
		if !found {
			return
		}
		if _, retrying := s.timeline(conversationID).MarkRetrying(localID); !retrying {
			return
		}
		ok = true
		s.onChange(conversationID)
		s.dispatch(ctx, conversationID, localID, req)
	})
	return ok
}

// LoadOlder fetches the next history page for a conversation and folds
// it in above the current rows.
func (s *Session) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	var cursor string
	s.do(func() { cursor = s.cursors[conversationID] })

	batch, next, err := s.gateway.History(ctx, conversationID, cursor, s.pageSize)
	if err != nil {
		return 0, err
	}

	added := 0
	s.do(func() {
		added = s.timeline(conversationID).PrependOlder(batch)
		s.cursors[conversationID] = next
		if added > 0 {
			s.onChange(conversationID)
		}
	})
	return added, nil
}

// MarkRead reports the caller's read position to the server.
func (s *Session) MarkRead(ctx context.Context, conversationID, messageID string) error {
	return s.gateway.MarkRead(ctx, conversationID, messageID)
}

// Reconnected resynchronizes after a dropped socket: typing indicators
// are cleared and each open conversation pulls its latest page to pick
// up whatever the socket missed.
func (s *Session) Reconnected(ctx context.Context) {
	var open []string
	s.do(func() {
		s.typing.Reset()
		for conversationID := range s.timelines {
			open = append(open, conversationID)
			s.onChange(conversationID)
		}
	})
	for _, conversationID := range open {
		batch, _, err := s.gateway.History(ctx, conversationID, "", s.pageSize)
		if err != nil {
			s.logger.Warn("reconnect reconcile failed", "conversation_id", conversationID, "error", err)
			continue
		}
		s.do(func() {
			// even with no new rows the fold may have advanced receipts
			s.timeline(conversationID).PrependOlder(batch)
			s.onChange(conversationID)
		})
	}
}

// Entries snapshots a conversation's rows, oldest first.
func (s *Session) Entries(conversationID string) []*Entry {
	var out []*Entry
	s.do(func() { out = s.timeline(conversationID).Entries() })
	return out
}

// TypingIndicator renders the current typing label for a conversation.
func (s *Session) TypingIndicator(conversationID string) string {
	var out string
	s.do(func() { out = s.typing.Indicator(conversationID, s.userID) })
	return out
}

// dispatch runs the network send off the loop and posts the result back.
func (s *Session) dispatch(ctx context.Context, conversationID, localID string, req SendRequest) {
	go func() {
		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
		msg, err := s.gateway.Send(sendCtx, conversationID, req)
		s.do(func() {
			tl := s.timeline(conversationID)
			if err != nil {
				if tl.MarkFailed(localID) {
					s.logger.Debug("send failed", "conversation_id", conversationID, "local_id", localID, "error", err)
					s.onChange(conversationID)
				}
				return
			}
			tl.Apply(msg)
			delete(s.pending, localID)
			delete(s.convs, localID)
			s.onChange(conversationID)
		})
	}()
}

func (s *Session) applyEvent(ctx context.Context, ev chat.Event) {
	switch ev.Kind {
	case chat.EventMessageNew:
		if ev.Message == nil {
			return
		}
		tl := s.timeline(ev.ConversationID)
		tl.Apply(ev.Message)
		s.onChange(ev.ConversationID)
		if ev.Message.SenderID != s.userID {
			s.ackDelivered(ctx, ev.ConversationID, ev.Message.ID)
		}
	case chat.EventMessageDelivered:
		if s.timeline(ev.ConversationID).AdvanceStatus(ev.MessageID, chat.StatusDelivered) {
			s.onChange(ev.ConversationID)
		}
	case chat.EventMessageRead:
		if s.timeline(ev.ConversationID).AdvanceStatus(ev.MessageID, chat.StatusRead) {
			s.onChange(ev.ConversationID)
		}
	case chat.EventTypingStart, chat.EventTypingStop:
		if ev.UserID == s.userID {
			return
		}
		if s.typing.Apply(ev, s.resolver(ev.UserID)) {
			s.onChange(ev.ConversationID)
		}
	case chat.EventConversationUpdated:
		s.onChange(ev.ConversationID)
	}
}

// ackDelivered tells the server this device received the message.
func (s *Session) ackDelivered(ctx context.Context, conversationID, messageID string) {
	go func() {
		ackCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
		if err := s.gateway.MarkDelivered(ackCtx, conversationID, messageID); err != nil {
			s.logger.Debug("delivery ack failed", "conversation_id", conversationID, "message_id", messageID, "error", err)
		}
	}()
}

func (s *Session) timeline(conversationID string) *Timeline {
	tl, ok := s.timelines[conversationID]
	if !ok {
		tl = NewTimeline()
		s.timelines[conversationID] = tl
	}
	return tl
}

// do runs fn on the loop goroutine and waits for it.
func (s *Session) do(fn func()) {
	doneCh := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(doneCh) }:
	case <-s.done:
		return
	}
	select {
	case <-doneCh:
	case <-s.done:
	}
}
