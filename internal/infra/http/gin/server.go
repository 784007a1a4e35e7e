package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"messenger/internal/config"
	"messenger/internal/obs"
)

// WSHTTP exposes the realtime upgrade endpoint.
type WSHTTP interface {
	Connect(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	Attachments    AttachmentHTTP
	WS             WSHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	if h.WS != nil {
		router.GET("/ws", h.WS.Connect)
	}

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.GET("/conversations", h.Chat.ListConversations)
		api.GET("/conversations/search", h.Chat.SearchConversations)
		api.POST("/conversations/direct", h.Chat.CreateDirect)
		api.POST("/conversations/group", h.Chat.CreateGroup)
		api.GET("/conversations/:id", h.Chat.GetConversation)
		api.POST("/conversations/:id/archive", h.Chat.Archive)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.POST("/conversations/:id/read", h.Chat.MarkRead)
		api.POST("/conversations/:id/delivered", h.Chat.MarkDelivered)
		api.PATCH("/messages/:id", h.Chat.EditMessage)
		api.DELETE("/messages/:id", h.Chat.DeleteMessage)
	}
	if h.Attachments != nil {
		api.POST("/conversations/:id/attachments", h.Attachments.Upload)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
