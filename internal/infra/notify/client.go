package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"messenger/internal/app/messaging"
)

// Client posts unread signals to the notification service. Sends are
// best effort; the messaging flow never waits on or fails with them.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	Logger   *slog.Logger
}

func NewClient(endpoint string, logger *slog.Logger) *Client {
	return &Client{
		Endpoint: strings.TrimSpace(endpoint),
		HTTP:     &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

// NotifyUnread implements messaging.Notifier.
func (c *Client) NotifyUnread(ctx context.Context, userID, conversationID, preview string) error {
	if c == nil || c.Endpoint == "" {
		return errors.New("notify: endpoint not configured")
	}
	payload, err := json.Marshal(map[string]string{
		"user_id":         userID,
		"conversation_id": conversationID,
		"preview":         preview,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logError("notify request failed", err)
		return fmt.Errorf("notify: service unavailable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("notify: service returned %d", resp.StatusCode)
		c.logError("notify returned error", err)
		return err
	}
	return nil
}

func (c *Client) logError(msg string, err error) {
	if c.Logger != nil {
		c.Logger.Debug(msg, "error", err)
	}
}

var _ messaging.Notifier = (*Client)(nil)
