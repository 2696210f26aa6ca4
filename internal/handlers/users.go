package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/chat"
)

type UserHandler struct {
	chat   *chat.Service
	logger zerolog.Logger
}

func NewUserHandler(chatSvc *chat.Service, logger zerolog.Logger) *UserHandler {
	return &UserHandler{chat: chatSvc, logger: logger}
}

func (h *UserHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": currentUser(c)})
}

// List returns everyone but the caller, filtered by name when q is set.
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.chat.SearchUsers(c.Request.Context(), c.Query("q"), c.GetString(identityKeyKey))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.chat.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type LookupRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (h *UserHandler) Lookup(c *gin.Context) {
	var req LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	users, err := h.chat.GetUsers(c.Request.Context(), req.IDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type PresenceRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// Presence maps client lifecycle signals (page visible or hidden) onto the
// caller's online flag.
func (h *UserHandler) Presence(c *gin.Context) {
	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.chat.SetOnline(c.Request.Context(), c.GetString(identityKeyKey), *req.Online); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
