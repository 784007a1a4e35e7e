package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"messenger/internal/app/dto"
	"messenger/internal/domain/chat"
)

// HTTPGateway talks to the messaging REST API.
type HTTPGateway struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPGateway(baseURL, token string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPGateway) Send(ctx context.Context, conversationID string, in SendRequest) (*chat.Message, error) {
	body := dto.SendMessageRequest{
		ClientMessageID: in.ClientMessageID,
		Content:         in.Content,
	}
	for _, a := range in.Attachments {
		body.Attachments = append(body.Attachments, dto.Attachment{
			Type:     string(a.Type),
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
		})
	}
	var out dto.Message
	err := g.call(ctx, http.MethodPost, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/messages", body, &out)
	if err != nil {
		return nil, err
	}
	return messageFromDTO(out), nil
}

func (g *HTTPGateway) History(ctx context.Context, conversationID, cursor string, limit int) ([]*chat.Message, string, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page dto.MessagePage
	if err := g.call(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, "", err
	}
	items := make([]*chat.Message, 0, len(page.Items))
	for _, m := range page.Items {
		items = append(items, messageFromDTO(m))
	}
	return items, page.NextCursor, nil
}

// messageFromDTO rebuilds a domain message from its wire form so the
// timeline sees the same receipts and tombstones the server aggregated.
func messageFromDTO(m dto.Message) *chat.Message {
	out := &chat.Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		ClientMessageID: m.ClientMessageID,
		Content:         m.Content,
		CreatedAt:       m.CreatedAt,
		EditedAt:        m.EditedAt,
		Tombstoned:      m.Deleted,
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, chat.Attachment{
			Type:     chat.AttachmentType(a.Type),
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
		})
	}
	for _, r := range m.DeliveredTo {
		out.DeliveredTo = append(out.DeliveredTo, chat.Receipt{UserID: r.UserID, At: r.At})
	}
	for _, r := range m.ReadBy {
		out.ReadBy = append(out.ReadBy, chat.Receipt{UserID: r.UserID, At: r.At})
	}
	return out
}

func (g *HTTPGateway) MarkRead(ctx context.Context, conversationID, messageID string) error {
	body := dto.MarkReadRequest{MessageID: messageID}
	return g.call(ctx, http.MethodPost, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/read", body, nil)
}

func (g *HTTPGateway) MarkDelivered(ctx context.Context, conversationID, messageID string) error {
	body := dto.MarkReadRequest{MessageID: messageID}
	return g.call(ctx, http.MethodPost, "/api/v1/conversations/"+url.PathEscape(conversationID)+"/delivered", body, nil)
}

func (g *HTTPGateway) call(ctx context.Context, method, path string, body, out any) error {
	if g.BaseURL == "" {
		return errors.New("gateway: base url not configured")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return chat.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return chat.ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: server returned %d", chat.ErrTransient, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gateway: request rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Gateway = (*HTTPGateway)(nil)
