package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/models"
)

type MessageHandler struct {
	chat   *chat.Service
	logger zerolog.Logger
}

func NewMessageHandler(chatSvc *chat.Service, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{chat: chatSvc, logger: logger}
}

// List returns the full history of a conversation, oldest first.
func (h *MessageHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")
	if _, err := h.chat.RequireParticipant(ctx, conversationID, currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	messages, err := h.chat.ListMessages(ctx, conversationID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type SendMessageRequest struct {
	Content string             `json:"content"`
	Type    models.MessageType `json:"type"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Type == "" {
		req.Type = models.MessageTypeText
	}

	ctx := c.Request.Context()
	conversationID := c.Param("id")
	if _, err := h.chat.RequireParticipant(ctx, conversationID, currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	id, err := h.chat.AppendMessage(ctx, conversationID, currentUserID(c), req.Content, req.Type)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	msg, err := h.chat.GetMessage(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *MessageHandler) Delete(c *gin.Context) {
	if err := h.chat.DeleteMessage(c.Request.Context(), c.Param("id"), currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *MessageHandler) React(c *gin.Context) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	ctx := c.Request.Context()
	msg, err := h.chat.GetMessage(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if _, err := h.chat.RequireParticipant(ctx, msg.ConversationID, currentUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	added, err := h.chat.ToggleReaction(ctx, msg.ID, currentUserID(c), req.Emoji)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if msg, err = h.chat.GetMessage(ctx, msg.ID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "message": msg})
}
