package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"messenger/internal/app/messaging"
	"messenger/internal/domain/chat"
)

// Store keeps conversations and message logs in process memory. It backs
// dev mode and tests. Each conversation carries its own lock, so appends
// are linearizable per conversation while distinct conversations proceed
// in parallel.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]*conversationState
	direct   map[string]string // directKey -> conversationID
	msgIndex map[string]string // messageID -> conversationID
}

type conversationState struct {
	mu         sync.Mutex
	conv       *chat.Conversation
	log        []*chat.Message   // ascending (createdAt, id)
	byID       map[string]*chat.Message
	byClientID map[string]string // senderID|clientMessageID -> messageID
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{
		convs:    make(map[string]*conversationState),
		direct:   make(map[string]string),
		msgIndex: make(map[string]string),
	}
}

func (s *Store) CreateConversation(_ context.Context, conv *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.Type == chat.ConversationDirect {
		if _, exists := s.direct[conv.DirectKey]; exists {
			return chat.ErrConflict
		}
		s.direct[conv.DirectKey] = conv.ID
	}
	s.convs[conv.ID] = &conversationState{
		conv:       cloneConversation(conv),
		byID:       make(map[string]*chat.Message),
		byClientID: make(map[string]string),
	}
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	state, err := s.state(id)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return cloneConversation(state.conv), nil
}

func (s *Store) FindDirect(ctx context.Context, directKey string) (*chat.Conversation, error) {
	s.mu.RLock()
	id, ok := s.direct[directKey]
	s.mu.RUnlock()
	if !ok {
		return nil, chat.ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]*chat.Conversation, error) {
	s.mu.RLock()
	states := make([]*conversationState, 0, len(s.convs))
	for _, state := range s.convs {
		states = append(states, state)
	}
	s.mu.RUnlock()

	out := make([]*chat.Conversation, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		if state.conv.HasParticipant(userID) {
			out = append(out, cloneConversation(state.conv))
		}
		state.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *Store) SetArchived(_ context.Context, conversationID, userID string, archived bool) error {
	state, err := s.state(conversationID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.conv.Archived == nil {
		state.conv.Archived = make(map[string]bool)
	}
	state.conv.Archived[userID] = archived
	return nil
}

func (s *Store) AppendMessage(_ context.Context, msg *chat.Message) error {
	state, err := s.state(msg.ConversationID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	clientKey := msg.SenderID + "|" + msg.ClientMessageID
	if _, exists := state.byClientID[clientKey]; exists {
		return chat.ErrConflict
	}

	stored := msg.Clone()
	state.log = append(state.log, stored)
	// concurrent senders may land out of order within the same instant
	for i := len(state.log) - 1; i > 0 && state.log[i].Before(state.log[i-1]); i-- {
		state.log[i], state.log[i-1] = state.log[i-1], state.log[i]
	}
	state.byID[stored.ID] = stored
	state.byClientID[clientKey] = stored.ID
	state.conv.RecordMessage(stored)

	s.mu.Lock()
	s.msgIndex[stored.ID] = stored.ConversationID
	s.mu.Unlock()
	return nil
}

func (s *Store) FindByClientID(_ context.Context, conversationID, senderID, clientMessageID string) (*chat.Message, error) {
	state, err := s.state(conversationID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	id, ok := state.byClientID[senderID+"|"+clientMessageID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return state.byID[id].Clone(), nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	convID, ok := s.msgIndex[id]
	s.mu.RUnlock()
	if !ok {
		return nil, chat.ErrNotFound
	}
	state, err := s.state(convID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	msg, ok := state.byID[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return msg.Clone(), nil
}

func (s *Store) ListOlder(_ context.Context, conversationID string, cursor chat.Cursor, limit int) ([]*chat.Message, error) {
	state, err := s.state(conversationID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	out := make([]*chat.Message, 0, limit)
	for i := len(state.log) - 1; i >= 0 && len(out) < limit; i-- {
		msg := state.log[i]
		if !cursor.IsZero() && !cursor.Admits(msg) {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out, nil
}

func (s *Store) UpdateMessage(_ context.Context, msg *chat.Message) error {
	state, err := s.state(msg.ConversationID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	stored, ok := state.byID[msg.ID]
	if !ok {
		return chat.ErrNotFound
	}
	*stored = *msg.Clone()
	return nil
}

func (s *Store) UpdateSummary(_ context.Context, conversationID string, summary *chat.MessageSummary) error {
	state, err := s.state(conversationID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	cp := *summary
	state.conv.LastMessage = &cp
	return nil
}

func (s *Store) MarkRead(_ context.Context, conversationID, userID, messageID string, at time.Time) ([]string, error) {
	return s.applyReceipts(conversationID, userID, messageID, at, true)
}

func (s *Store) MarkDelivered(_ context.Context, conversationID, userID, messageID string, at time.Time) ([]string, error) {
	return s.applyReceipts(conversationID, userID, messageID, at, false)
}

// applyReceipts walks the log up to and including the target message and
// grows the receipt sets. Holding the conversation lock for the whole
// walk keeps the unread counter single-writer with respect to appends.
func (s *Store) applyReceipts(conversationID, userID, messageID string, at time.Time, read bool) ([]string, error) {
	state, err := s.state(conversationID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	target, ok := state.byID[messageID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	changed := make([]string, 0, 8)
	for _, msg := range state.log {
		if target.Before(msg) {
			break
		}
		applied := false
		if read {
			applied = msg.MarkRead(userID, at)
		} else {
			applied = msg.MarkDelivered(userID, at)
		}
		if applied {
			changed = append(changed, msg.ID)
		}
	}
	if read {
		if state.conv.Unread == nil {
			state.conv.Unread = make(map[string]int)
		}
		state.conv.Unread[userID] = 0
	}
	return changed, nil
}

func (s *Store) state(conversationID string) (*conversationState, error) {
	s.mu.RLock()
	state, ok := s.convs[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, chat.ErrNotFound
	}
	return state, nil
}

func cloneConversation(c *chat.Conversation) *chat.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	cp.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		cp.Unread[k] = v
	}
	cp.Archived = make(map[string]bool, len(c.Archived))
	for k, v := range c.Archived {
		cp.Archived[k] = v
	}
	return &cp
}

var _ messaging.Store = (*Store)(nil)
