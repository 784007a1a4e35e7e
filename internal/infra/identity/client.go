package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"messenger/internal/app/messaging"
	ginserver "messenger/internal/infra/http/gin"
)

// Client resolves tokens and user profiles against the identity service
// and caches profiles with a TTL so directory rendering stays cheap.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	CacheTTL time.Duration
	Logger   *slog.Logger

	mu       sync.RWMutex
	profiles map[string]cachedProfile
}

type cachedProfile struct {
	profile messaging.Profile
	expires time.Time
}

func NewClient(baseURL string, cacheTTL time.Duration, logger *slog.Logger) *Client {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Client{
		BaseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:     &http.Client{Timeout: 3 * time.Second},
		CacheTTL: cacheTTL,
		Logger:   logger,
		profiles: make(map[string]cachedProfile),
	}
}

// VerifyToken implements ginserver.TokenVerifier. Tokens are never
// cached; revocation must take effect immediately.
func (c *Client) VerifyToken(ctx context.Context, token string) (ginserver.Principal, error) {
	if c.BaseURL == "" {
		return ginserver.Principal{}, errors.New("identity: base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/tokens/verify", nil)
	if err != nil {
		return ginserver.Principal{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var payload struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if err := c.do(req, &payload); err != nil {
		return ginserver.Principal{}, err
	}
	if payload.UserID == "" {
		return ginserver.Principal{}, errors.New("identity: empty principal")
	}
	return ginserver.Principal{ID: payload.UserID, DisplayName: payload.Name}, nil
}

// Profile implements messaging.Directory with a TTL cache in front.
func (c *Client) Profile(ctx context.Context, userID string) (messaging.Profile, error) {
	c.mu.RLock()
	cached, ok := c.profiles[userID]
	c.mu.RUnlock()
	if ok && time.Now().Before(cached.expires) {
		return cached.profile, nil
	}

	if c.BaseURL == "" {
		return messaging.Profile{}, errors.New("identity: base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return messaging.Profile{}, err
	}

	var profile messaging.Profile
	if err := c.do(req, &profile); err != nil {
		// a stale profile beats no profile for directory rendering
		if ok {
			return cached.profile, nil
		}
		return messaging.Profile{}, err
	}

	c.mu.Lock()
	c.profiles[userID] = cachedProfile{profile: profile, expires: time.Now().Add(c.CacheTTL)}
	c.mu.Unlock()
	return profile, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Debug("identity request failed", "url", req.URL.Path, "error", err)
		}
		return fmt.Errorf("identity: service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("identity: service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ messaging.Directory     = (*Client)(nil)
	_ ginserver.TokenVerifier = (*Client)(nil)
)
