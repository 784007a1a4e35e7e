package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
)

const principalContextKey = "messenger.principal"

// Principal is the authenticated caller as resolved from a bearer token.
type Principal struct {
	ID          string
	DisplayName string
	Token       string
}

// TokenVerifier resolves bearer tokens against the identity service.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Principal, error)
}

type AuthMiddleware struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

// Handle attaches a principal when a valid token is present and lets the
// request through otherwise; individual handlers decide whether auth is
// required.
func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Verifier == nil {
		c.Next()
		return
	}
	p, err := m.Verifier.VerifyToken(c.Request.Context(), token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	p.Token = token
	setPrincipal(c, p)
	c.Next()
}

func setPrincipal(c *gin.Context, p Principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (Principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return Principal{}, false
	}
	p, ok := val.(Principal)
	return p, ok
}

func requireAuth(c *gin.Context) (Principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return Principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
