package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"messenger/internal/app/dto"
	"messenger/internal/app/messaging"
	"messenger/internal/infra/storage/s3"
)

// AttachmentHTTP exposes attachment upload.
type AttachmentHTTP interface {
	Upload(c *gin.Context)
}

// AttachmentHandler streams multipart uploads into object storage and
// hands back the attachment descriptor to embed in a send.
type AttachmentHandler struct {
	Uploader s3.Uploader
	Service  *messaging.Service
	MaxBytes int64
	Logger   *slog.Logger
}

// Upload handles POST /conversations/:id/attachments.
func (h AttachmentHandler) Upload(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if h.Service != nil {
		if _, err := h.Service.GetConversation(c.Request.Context(), principal.ID, conversationID); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if h.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes)
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()
	if h.MaxBytes > 0 && header.Size > h.MaxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
		return
	}

	attachment, err := h.Uploader.UploadAttachment(c.Request.Context(), conversationID, header.Filename, header.Size, file)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("attachment upload failed", "conversation_id", conversationID, "user_id", principal.ID, "error", err)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusCreated, dto.UploadedAttachment{
		URL:      attachment.URL,
		Filename: attachment.Filename,
		Size:     attachment.Size,
		Type:     string(attachment.Type),
	})
}

func (h AttachmentHandler) respondError(c *gin.Context, err error) {
	ChatHandler{Logger: h.Logger}.respondError(c, err, "load conversation")
}

var _ AttachmentHTTP = (*AttachmentHandler)(nil)
