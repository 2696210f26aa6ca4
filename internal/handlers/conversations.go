package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/chat"
)

type ConversationHandler struct {
	chat   *chat.Service
	logger zerolog.Logger
}

func NewConversationHandler(chatSvc *chat.Service, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{chat: chatSvc, logger: logger}
}

func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.chat.ListConversations(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

type CreateDirectRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
}

func (h *ConversationHandler) CreateDirect(c *gin.Context) {
	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	id, err := h.chat.GetOrCreateDirect(c.Request.Context(), currentUserID(c), req.ParticipantID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

type CreateGroupRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	Name           string   `json:"name" binding:"required"`
	Description    *string  `json:"description"`
	Image          *string  `json:"image"`
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "group name is required")
		return
	}

	id, err := h.chat.CreateGroup(c.Request.Context(), currentUserID(c), chat.GroupParams{
		Name:           req.Name,
		Description:    req.Description,
		Image:          req.Image,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.chat.RequireParticipant(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")
	if _, err := h.chat.RequireParticipant(ctx, conversationID, currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := h.chat.MarkRead(ctx, conversationID, currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type TypingRequest struct {
	IsTyping *bool `json:"is_typing" binding:"required"`
}

func (h *ConversationHandler) SetTyping(c *gin.Context) {
	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	ctx := c.Request.Context()
	conversationID := c.Param("id")
	if _, err := h.chat.RequireParticipant(ctx, conversationID, currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := h.chat.SetTyping(ctx, conversationID, currentUserID(c), *req.IsTyping); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Typing lists the other participants currently typing.
func (h *ConversationHandler) Typing(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")
	if _, err := h.chat.RequireParticipant(ctx, conversationID, currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	users, err := h.chat.ActiveTypers(ctx, conversationID, currentUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
