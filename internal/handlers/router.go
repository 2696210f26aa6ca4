package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/goftgu/internal/auth"
	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/metrics"
	"github.com/4xmen/goftgu/internal/push"
	"github.com/4xmen/goftgu/internal/ws"
)

// Deps carries everything the router wires into handlers. Hub and Push are
// optional.
type Deps struct {
	Chat          *chat.Service
	Auth          *auth.Service
	Hub           *ws.Hub
	Push          *push.Notifier
	WebhookSecret string
	CORSOrigins   string
	Logger        zerolog.Logger

	SessionRate limiter.Rate
	WebhookRate limiter.Rate
	SendRate    limiter.Rate
}

func (d *Deps) defaults() {
	if d.CORSOrigins == "" {
		d.CORSOrigins = "*"
	}
	if d.SessionRate.Limit == 0 {
		d.SessionRate = limiter.Rate{Period: time.Minute, Limit: 10}
	}
	if d.WebhookRate.Limit == 0 {
		d.WebhookRate = limiter.Rate{Period: time.Minute, Limit: 120}
	}
	if d.SendRate.Limit == 0 {
		d.SendRate = limiter.Rate{Period: time.Minute, Limit: 60}
	}
}

func NewRouter(d Deps) *gin.Engine {
	d.defaults()

	router := gin.New()
	router.Use(RequestID())
	router.Use(ServerErrorLogger(d.Logger))
	router.Use(RequestLogger(d.Logger))
	router.Use(PanicRecovery(d.Logger))
	router.Use(metrics.Middleware())
	router.Use(CORS(d.CORSOrigins))

	authHandler := NewAuthHandler(d.Auth, d.Chat, d.Logger)
	userHandler := NewUserHandler(d.Chat, d.Logger)
	convHandler := NewConversationHandler(d.Chat, d.Logger)
	msgHandler := NewMessageHandler(d.Chat, d.Logger)
	webhookHandler := NewWebhookHandler(d.Chat, d.WebhookSecret, d.Logger)
	pushHandler := NewPushHandler(d.Push, d.Logger)

	sessionLimiter := limiter.New(memory.NewStore(), d.SessionRate)
	webhookLimiter := limiter.New(memory.NewStore(), d.WebhookRate)
	sendLimiter := limiter.New(memory.NewStore(), d.SendRate)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.POST("/webhooks/identity", RateLimit(webhookLimiter), webhookHandler.Identity)

	// Token only: the caller may not be synced yet.
	session := api.Group("")
	session.Use(authHandler.RequireToken())
	{
		session.POST("/session", RateLimit(sessionLimiter), authHandler.Session)
		session.PUT("/presence", userHandler.Presence)
	}

	protected := api.Group("")
	protected.Use(authHandler.RequireToken(), authHandler.RequireUser())
	{
		protected.GET("/me", userHandler.Me)
		protected.GET("/users", userHandler.List)
		protected.GET("/users/:id", userHandler.Get)
		protected.POST("/users/lookup", userHandler.Lookup)

		protected.GET("/conversations", convHandler.List)
		protected.POST("/conversations", convHandler.CreateDirect)
		protected.POST("/conversations/group", convHandler.CreateGroup)
		protected.GET("/conversations/:id", convHandler.Get)
		protected.GET("/conversations/:id/messages", msgHandler.List)
		protected.POST("/conversations/:id/messages", RateLimit(sendLimiter), msgHandler.Send)
		protected.PUT("/conversations/:id/read", convHandler.MarkRead)
		protected.PUT("/conversations/:id/typing", convHandler.SetTyping)
		protected.GET("/conversations/:id/typing", convHandler.Typing)

		protected.DELETE("/messages/:id", msgHandler.Delete)
		protected.POST("/messages/:id/reactions", msgHandler.React)

		protected.GET("/push/vapid", pushHandler.VAPIDKey)
		protected.POST("/push/subscriptions", pushHandler.Subscribe)
		protected.DELETE("/push/subscriptions", pushHandler.Unsubscribe)
	}

	if d.Hub != nil {
		router.GET("/ws", authHandler.RequireToken(), authHandler.RequireUser(), d.Hub.HandleWebSocket)
	}

	router.NoRoute(func(c *gin.Context) {
		errorJSON(c, http.StatusNotFound, "not found")
	})

	return router
}
