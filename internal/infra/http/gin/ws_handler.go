package ginserver

import (
	"context"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"messenger/internal/app/messaging"
	"messenger/internal/infra/ws"
)

// WSHandler upgrades authenticated requests to WebSocket connections
// and feeds client frames into the messaging layer.
type WSHandler struct {
	Hub      *ws.Hub
	Service  *messaging.Service
	Presence *messaging.Coordinator
	Logger   *slog.Logger

	Upgrader websocket.Upgrader
}

// NewWSHandler applies the default upgrader; origin checks happen at the
// CORS layer in front.
func NewWSHandler(hub *ws.Hub, service *messaging.Service, presence *messaging.Coordinator, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		Hub:      hub,
		Service:  service,
		Presence: presence,
		Logger:   logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Connect handles GET /ws.
func (h *WSHandler) Connect(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("ws upgrade failed", "user_id", principal.ID, "error", err)
		}
		return
	}
	client := ws.NewClient(h.Hub, conn, principal.ID)
	client.Serve(c.Request.Context())
}

// HandleInbound implements ws.InboundHandler for typing and receipt
// frames arriving over the socket.
func (h *WSHandler) HandleInbound(ctx context.Context, userID string, in ws.Inbound) {
	switch in.Type {
	case "typing:start":
		h.typing(ctx, userID, in.ConversationID, true)
	case "typing:stop":
		h.typing(ctx, userID, in.ConversationID, false)
	case "delivered":
		if h.Service != nil && in.ConversationID != "" && in.MessageID != "" {
			h.Service.MarkDelivered(ctx, userID, in.ConversationID, in.MessageID)
		}
	case "read":
		if h.Service != nil && in.ConversationID != "" && in.MessageID != "" {
			if err := h.Service.MarkRead(ctx, userID, in.ConversationID, in.MessageID); err != nil && h.Logger != nil {
				h.Logger.Debug("ws mark read failed", "user_id", userID, "conversation_id", in.ConversationID, "error", err)
			}
		}
	}
}

func (h *WSHandler) typing(ctx context.Context, userID, conversationID string, start bool) {
	if h.Service == nil || h.Presence == nil || conversationID == "" {
		return
	}
	conv, err := h.Service.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return
	}
	if start {
		if err := h.Presence.StartTyping(ctx, conv, userID); err != nil && h.Logger != nil {
			h.Logger.Debug("typing rejected", "user_id", userID, "conversation_id", conversationID, "error", err)
		}
		return
	}
	h.Presence.StopTyping(ctx, conv, userID)
}

var _ ws.InboundHandler = (*WSHandler)(nil)
