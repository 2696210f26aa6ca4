package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/pkg/i18n"
)

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": i18n.Translate(msg)})
}

// respondError maps a chat error onto the HTTP response. Internal failures
// are logged and answered with a generic message.
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	status := http.StatusInternalServerError
	switch chat.KindOf(err) {
	case chat.KindNotFound:
		status = http.StatusNotFound
	case chat.KindForbidden:
		status = http.StatusForbidden
	case chat.KindValidation:
		status = http.StatusBadRequest
	default:
		logger.Error().Err(err).
			Str("request_id", c.GetString(requestIDKey)).
			Str("path", c.FullPath()).
			Msg("request failed")
	}
	errorJSON(c, status, chat.MessageOf(err))
}
