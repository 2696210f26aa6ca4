package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/push"
)

type PushHandler struct {
	notifier *push.Notifier
	logger   zerolog.Logger
}

func NewPushHandler(notifier *push.Notifier, logger zerolog.Logger) *PushHandler {
	return &PushHandler{notifier: notifier, logger: logger}
}

// SubscribeRequest mirrors the browser's PushSubscription.toJSON() shape.
type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *PushHandler) disabled(c *gin.Context) bool {
	if h.notifier == nil {
		errorJSON(c, http.StatusNotFound, "push notifications disabled")
		return true
	}
	return false
}

func (h *PushHandler) VAPIDKey(c *gin.Context) {
	if h.disabled(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.notifier.VAPIDPublicKey()})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	if h.disabled(c) {
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid subscription")
		return
	}

	sub := push.Subscription{
		Endpoint:  req.Endpoint,
		KeyP256dh: req.Keys.P256dh,
		KeyAuth:   req.Keys.Auth,
	}
	if !sub.Valid() {
		errorJSON(c, http.StatusBadRequest, "invalid subscription")
		return
	}

	if err := h.notifier.Save(c.Request.Context(), currentUserID(c), sub); err != nil {
		h.logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("failed to save subscription")
		errorJSON(c, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	c.Status(http.StatusCreated)
}

func (h *PushHandler) Unsubscribe(c *gin.Context) {
	if h.disabled(c) {
		return
	}

	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid subscription")
		return
	}

	if err := h.notifier.Delete(c.Request.Context(), currentUserID(c), req.Endpoint); err != nil {
		h.logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("failed to delete subscription")
		errorJSON(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.Status(http.StatusNoContent)
}
