package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"messenger/internal/domain/chat"
)

const (
	defaultTypingTTL      = 5 * time.Second
	defaultTypingDebounce = time.Second
)

type typist struct {
	lastBroadcast time.Time
	expiry        *time.Timer
	participants  []string
}

// Coordinator owns ephemeral typing state: debounced start broadcasts,
// refresh-on-keystroke and self-expiring stop. Nothing here is ever
// persisted; losing the whole table on restart is safe.
type Coordinator struct {
	mu       sync.Mutex
	typists  map[string]map[string]*typist // conversationID -> userID
	events   Broadcaster
	limiter  Limiter
	ttl      time.Duration
	debounce time.Duration
	now      func() time.Time
	logger   *slog.Logger
	closed   bool
}

// CoordinatorConfig wires the typing coordinator.
type CoordinatorConfig struct {
	Events   Broadcaster
	Limiter  Limiter
	TTL      time.Duration
	Debounce time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewCoordinator builds a Coordinator with defaults applied.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultTypingDebounce
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		typists:  make(map[string]map[string]*typist),
		events:   cfg.Events,
		limiter:  cfg.Limiter,
		ttl:      ttl,
		debounce: debounce,
		now:      now,
		logger:   logger,
	}
}

// StartTyping arms (or refreshes) the expiry timer for the typist and
// broadcasts typing:start at most once per debounce window.
func (c *Coordinator) StartTyping(ctx context.Context, conv *chat.Conversation, userID string) error {
	if c.limiter != nil {
		ok, err := c.limiter.Allow(ctx, "typing:"+userID)
		if err != nil {
			c.logger.Debug("typing limiter unavailable", "error", err)
		} else if !ok {
			return chat.ErrRateLimited
		}
	}
	now := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	room := c.typists[conv.ID]
	if room == nil {
		room = make(map[string]*typist)
		c.typists[conv.ID] = room
	}
	entry, exists := room[userID]
	broadcast := false
	if !exists {
		entry = &typist{participants: conv.Participants}
		room[userID] = entry
	}
	if entry.expiry != nil {
		entry.expiry.Stop()
	}
	entry.expiry = time.AfterFunc(c.ttl, func() {
		c.expire(conv.ID, userID)
	})
	if now.Sub(entry.lastBroadcast) >= c.debounce {
		entry.lastBroadcast = now
		broadcast = true
	}
	c.mu.Unlock()

	if broadcast {
		c.publish(ctx, conv.Participants, chat.TypingEvent(chat.EventTypingStart, conv.ID, userID, now))
	}
	return nil
}

// StopTyping cancels the expiry timer and broadcasts typing:stop if the
// user was typing at all.
func (c *Coordinator) StopTyping(ctx context.Context, conv *chat.Conversation, userID string) {
	c.mu.Lock()
	entry := c.remove(conv.ID, userID)
	c.mu.Unlock()
	if entry == nil {
		return
	}
	c.publish(ctx, conv.Participants, chat.TypingEvent(chat.EventTypingStop, conv.ID, userID, c.now()))
}

// Typists lists users currently typing in the conversation.
func (c *Coordinator) Typists(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.typists[conversationID]
	out := make([]string, 0, len(room))
	for userID := range room {
		out = append(out, userID)
	}
	return out
}

// Close cancels every pending expiry timer. Indicators on clients decay
// on their own; no stop events are broadcast.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, room := range c.typists {
		for _, entry := range room {
			if entry.expiry != nil {
				entry.expiry.Stop()
			}
		}
	}
	c.typists = make(map[string]map[string]*typist)
}

// expire fires when no refresh arrived within the TTL: the stop event
// goes out without an explicit stopTyping call.
func (c *Coordinator) expire(conversationID, userID string) {
	c.mu.Lock()
	entry := c.remove(conversationID, userID)
	closed := c.closed
	c.mu.Unlock()
	if entry == nil || closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.publish(ctx, entry.participants, chat.TypingEvent(chat.EventTypingStop, conversationID, userID, c.now()))
}

// remove must be called with the mutex held.
func (c *Coordinator) remove(conversationID, userID string) *typist {
	room := c.typists[conversationID]
	entry, ok := room[userID]
	if !ok {
		return nil
	}
	if entry.expiry != nil {
		entry.expiry.Stop()
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(c.typists, conversationID)
	}
	return entry
}

func (c *Coordinator) publish(ctx context.Context, participants []string, ev chat.Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, participants, ev); err != nil {
		// typing failures are silent to users
		c.logger.Debug("typing broadcast failed", "error", err, "kind", ev.Kind)
	}
}
