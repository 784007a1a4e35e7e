package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"messenger/internal/app/dto"
	"messenger/internal/app/messaging"
	"messenger/internal/domain/chat"
)

// ChatHTTP exposes the conversation and message endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	SearchConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	CreateDirect(c *gin.Context)
	CreateGroup(c *gin.Context)
	Archive(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	EditMessage(c *gin.Context)
	DeleteMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	MarkDelivered(c *gin.Context)
}

// ChatHandler bridges HTTP with the messaging service.
type ChatHandler struct {
	Service   *messaging.Service
	Directory messaging.Directory
	Logger    *slog.Logger
}

// ListConversations returns the caller's directory rows, most recent
// activity first.
func (h ChatHandler) ListConversations(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	includeArchived := strings.EqualFold(c.Query("archived"), "true")
	conversations, err := h.Service.ListConversations(c.Request.Context(), principal.ID, includeArchived)
	if err != nil {
		h.respondError(c, err, "list conversations", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, h.conversationList(c, conversations, principal.ID))
}

// SearchConversations filters the directory by participant name,
// group name or message content.
func (h ChatHandler) SearchConversations(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	term := strings.TrimSpace(c.Query("q"))
	conversations, err := h.Service.Search(c.Request.Context(), principal.ID, term)
	if err != nil {
		h.respondError(c, err, "search conversations", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, h.conversationList(c, conversations, principal.ID))
}

// GetConversation returns one conversation the caller participates in.
func (h ChatHandler) GetConversation(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	conversation, err := h.Service.GetConversation(c.Request.Context(), principal.ID, conversationID)
	if err != nil {
		h.respondError(c, err, "load conversation", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, h.conversationDTO(c, conversation, principal.ID))
}

// CreateDirect finds or starts the caller's one-to-one thread with a peer.
func (h ChatHandler) CreateDirect(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	var req dto.CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	conversation, err := h.Service.GetOrCreateDirect(c.Request.Context(), principal.ID, strings.TrimSpace(req.UserID))
	if err != nil {
		h.respondError(c, err, "create direct conversation", "user_id", principal.ID, "peer_id", req.UserID)
		return
	}
	c.JSON(http.StatusOK, h.conversationDTO(c, conversation, principal.ID))
}

// CreateGroup starts a named conversation with two or more members.
func (h ChatHandler) CreateGroup(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	var req dto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	conversation, err := h.Service.CreateGroup(c.Request.Context(), principal.ID, strings.TrimSpace(req.Name), req.Participants)
	if err != nil {
		h.respondError(c, err, "create group conversation", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusCreated, h.conversationDTO(c, conversation, principal.ID))
}

// Archive toggles the caller's archived flag on a conversation.
func (h ChatHandler) Archive(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	archived, err := h.Service.Archive(c.Request.Context(), principal.ID, conversationID)
	if err != nil {
		h.respondError(c, err, "archive conversation", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": archived})
}

// ListMessages returns a history page, newest first, older than the
// cursor when one is given.
func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	limit := parsePositiveIntStrict(c.Query("limit"), 0)
	cursor := c.Query("cursor")
	messages, next, err := h.Service.LoadPage(c.Request.Context(), principal.ID, conversationID, cursor, limit)
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	page := dto.MessagePage{
		Items:      make([]dto.Message, 0, len(messages)),
		NextCursor: next,
	}
	for _, msg := range messages {
		page.Items = append(page.Items, messageDTO(msg))
	}
	c.JSON(http.StatusOK, page)
}

// SendMessage appends a message; repeats of the same client_message_id
// return the already stored row.
func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	attachments := make([]chat.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, chat.Attachment{
			Type:     chat.AttachmentType(a.Type),
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
		})
	}
	msg, err := h.Service.Send(c.Request.Context(), messaging.SendInput{
		ConversationID:  conversationID,
		SenderID:        principal.ID,
		ClientMessageID: strings.TrimSpace(req.ClientMessageID),
		Content:         req.Content,
		Attachments:     attachments,
	})
	if err != nil {
		h.respondError(c, err, "send message", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusCreated, messageDTO(msg))
}

// EditMessage rewrites the content of the caller's own recent message.
func (h ChatHandler) EditMessage(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	messageID := strings.TrimSpace(c.Param("id"))
	var req dto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.Service.Edit(c.Request.Context(), principal.ID, messageID, req.Content)
	if err != nil {
		h.respondError(c, err, "edit message", "message_id", messageID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, messageDTO(msg))
}

// DeleteMessage removes a message for the caller, or for everyone when
// the caller sent it recently enough.
func (h ChatHandler) DeleteMessage(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	messageID := strings.TrimSpace(c.Param("id"))
	mode := messaging.DeleteForMe
	if strings.EqualFold(c.Query("scope"), "everyone") {
		mode = messaging.DeleteForEveryone
	}
	msg, err := h.Service.Delete(c.Request.Context(), principal.ID, messageID, mode)
	if err != nil {
		h.respondError(c, err, "delete message", "message_id", messageID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, messageDTO(msg))
}

// MarkRead marks everything up to a message as read for the caller.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req dto.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.Service.MarkRead(c.Request.Context(), principal.ID, conversationID, strings.TrimSpace(req.MessageID)); err != nil {
		h.respondError(c, err, "mark read", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkDelivered records a delivery ack; mostly used by clients without a
// live socket.
func (h ChatHandler) MarkDelivered(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req dto.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	h.Service.MarkDelivered(c.Request.Context(), principal.ID, conversationID, strings.TrimSpace(req.MessageID))
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) conversationList(c *gin.Context, conversations []*chat.Conversation, userID string) dto.ConversationList {
	list := dto.ConversationList{Items: make([]dto.Conversation, 0, len(conversations))}
	for _, conv := range conversations {
		list.Items = append(list.Items, h.conversationDTO(c, conv, userID))
	}
	return list
}

func (h ChatHandler) conversationDTO(c *gin.Context, conv *chat.Conversation, userID string) dto.Conversation {
	out := dto.Conversation{
		ID:           conv.ID,
		Type:         string(conv.Type),
		Name:         conv.Name,
		Participants: append([]string(nil), conv.Participants...),
		LastActivity: conv.LastActivity,
		UnreadCount:  conv.UnreadFor(userID),
		Archived:     conv.ArchivedFor(userID),
		CreatedAt:    conv.CreatedAt,
	}
	if conv.LastMessage != nil {
		out.LastMessage = &dto.MessageSummary{
			MessageID: conv.LastMessage.MessageID,
			SenderID:  conv.LastMessage.SenderID,
			Snippet:   conv.LastMessage.Content,
			SentAt:    conv.LastMessage.SentAt,
		}
	}
	if h.Directory != nil {
		names := make(map[string]string, len(conv.Participants))
		for _, id := range conv.Participants {
			profile, err := h.Directory.Profile(c.Request.Context(), id)
			if err != nil {
				continue
			}
			names[id] = profile.Name
		}
		if len(names) > 0 {
			out.DisplayNames = names
		}
	}
	return out
}

func messageDTO(m *chat.Message) dto.Message {
	out := dto.Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		ClientMessageID: m.ClientMessageID,
		Content:         m.Content,
		Status:          string(m.Status()),
		Edited:          !m.EditedAt.IsZero(),
		EditedAt:        m.EditedAt,
		Deleted:         m.Tombstoned,
		CreatedAt:       m.CreatedAt,
	}
	for _, r := range m.DeliveredTo {
		out.DeliveredTo = append(out.DeliveredTo, dto.Receipt{UserID: r.UserID, At: r.At})
	}
	for _, r := range m.ReadBy {
		out.ReadBy = append(out.ReadBy, dto.Receipt{UserID: r.UserID, At: r.At})
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, dto.Attachment{
			Type:     string(a.Type),
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
		})
	}
	return out
}

func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case chat.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	case errors.Is(err, chat.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
		return
	case errors.Is(err, chat.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
		return
	}
	if h.Logger != nil {
		h.Logger.Error("messaging call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ChatHTTP = (*ChatHandler)(nil)
