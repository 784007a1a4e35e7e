package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"messenger/internal/app/messaging"
	"messenger/internal/domain/chat"
)

// Hub owns every live WebSocket connection on this node and fans chat
// events out to them. Each connection writes through its own buffered
// channel, so events stay FIFO per connection; the hub's run loop
// serializes routing decisions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // clientID
	users   map[string]map[string]*Client // userID -> clientID
	subs    map[string]map[string]*Client // conversationID -> clientID

	register   chan *Client
	unregister chan *Client
	outbound   chan envelope
	done       chan struct{}

	handler InboundHandler
	logger  *slog.Logger
}

type envelope struct {
	participants []string
	payload      []byte
	kind         chat.EventKind
	conversation string
}

// InboundHandler reacts to client-originated frames (typing, delivery
// acks). Subscription management stays inside the hub.
type InboundHandler interface {
	HandleInbound(ctx context.Context, userID string, in Inbound)
}

// Inbound is the client-to-server frame format.
type Inbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// NewHub builds a hub; call Run before registering clients.
func NewHub(handler InboundHandler, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		users:      make(map[string]map[string]*Client),
		subs:       make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan envelope, 256),
		done:       make(chan struct{}),
		handler:    handler,
		logger:     logger,
	}
}

// SetHandler installs the inbound frame handler. Must be called before
// Run; the handler usually needs the hub itself, hence the two-step
// construction.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.handler = handler
}

// Run processes registrations and routes events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case env := <-h.outbound:
			h.route(env)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

// Publish implements messaging.Broadcaster for single-node deployments;
// with Kafka in front, the consumer calls it after decoding.
func (h *Hub) Publish(ctx context.Context, participants []string, ev chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	env := envelope{
		participants: participants,
		payload:      payload,
		kind:         ev.Kind,
		conversation: ev.ConversationID,
	}
	select {
	case h.outbound <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe scopes a connection to a conversation the user has open.
func (h *Hub) Subscribe(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[string]*Client)
	}
	h.subs[conversationID][client.id] = client
	client.subs[conversationID] = true
}

// Unsubscribe detaches a connection from a conversation.
func (h *Hub) Unsubscribe(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.subs, conversationID)
	if room := h.subs[conversationID]; room != nil {
		delete(room, client.id)
		if len(room) == 0 {
			delete(h.subs, conversationID)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.id] = client
	if h.users[client.userID] == nil {
		h.users[client.userID] = make(map[string]*Client)
	}
	h.users[client.userID][client.id] = client
	if h.logger != nil {
		h.logger.Debug("ws client registered", "client_id", client.id, "user_id", client.userID)
	}
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	delete(h.clients, client.id)
	if conns := h.users[client.userID]; conns != nil {
		delete(conns, client.id)
		if len(conns) == 0 {
			delete(h.users, client.userID)
		}
	}
	for conversationID := range client.subs {
		if room := h.subs[conversationID]; room != nil {
			delete(room, client.id)
			if len(room) == 0 {
				delete(h.subs, conversationID)
			}
		}
	}
	client.close()
	if h.logger != nil {
		h.logger.Debug("ws client unregistered", "client_id", client.id, "user_id", client.userID)
	}
}

// route delivers an event to the connections of the listed participants.
// Directory-level events reach every connection of a participant; the
// rest go only to connections subscribed to the conversation.
func (h *Hub) route(env envelope) {
	directory := env.kind == chat.EventMessageNew || env.kind == chat.EventConversationUpdated

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range env.participants {
		for _, client := range h.users[userID] {
			if !directory && !client.subs[env.conversation] {
				continue
			}
			client.enqueue(env.payload, h.logger)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		client.close()
	}
	h.clients = make(map[string]*Client)
	h.users = make(map[string]map[string]*Client)
	h.subs = make(map[string]map[string]*Client)
}

var _ messaging.Broadcaster = (*Hub)(nil)
