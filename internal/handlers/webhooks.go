package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/auth"
	"github.com/4xmen/goftgu/internal/chat"
)

const (
	webhookSignatureHeader = "X-Webhook-Signature"
	maxWebhookBody         = 1 << 20
)

// WebhookEvent is the identity provider's user lifecycle callback.
type WebhookEvent struct {
	Type string      `json:"type"`
	Data WebhookUser `json:"data"`
}

type WebhookUser struct {
	IdentityKey string  `json:"identity_key"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	ImageURL    *string `json:"image_url"`
}

type WebhookHandler struct {
	chat   *chat.Service
	secret string
	logger zerolog.Logger
}

func NewWebhookHandler(chatSvc *chat.Service, secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{chat: chatSvc, secret: secret, logger: logger}
}

func (h *WebhookHandler) Identity(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	if h.secret == "" || !auth.VerifySignature(h.secret, body, c.GetHeader(webhookSignatureHeader)) {
		errorJSON(c, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	switch event.Type {
	case "user.created", "user.updated":
	default:
		h.logger.Warn().Str("type", event.Type).Msg("unknown webhook event")
		errorJSON(c, http.StatusBadRequest, "unknown webhook event")
		return
	}

	userID, err := h.chat.UpsertUser(c.Request.Context(), event.Data.IdentityKey, event.Data.Name, event.Data.Email, event.Data.ImageURL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info().
		Str("type", event.Type).
		Str("user_id", userID).
		Msg("identity synced")
	c.JSON(http.StatusOK, gin.H{"id": userID})
}
