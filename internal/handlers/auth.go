package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/auth"
	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/models"
)

const (
	claimsKey      = "claims"
	identityKeyKey = "identity_key"
	userIDKey      = "user_id"
	userKey        = "user"
)

type AuthHandler struct {
	authSvc *auth.Service
	chat    *chat.Service
	logger  zerolog.Logger
}

func NewAuthHandler(authSvc *auth.Service, chatSvc *chat.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, chat: chatSvc, logger: logger}
}

// RequireToken validates the identity-provider token from the
// Authorization header, or the token query parameter for websockets.
func (h *AuthHandler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		}
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			errorJSON(c, http.StatusUnauthorized, "missing authorization token")
			c.Abort()
			return
		}

		claims, err := h.authSvc.ValidateToken(token)
		if err != nil {
			h.logger.Debug().Err(err).Msg("token rejected")
			errorJSON(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Set(identityKeyKey, claims.Subject)
		c.Next()
	}
}

// RequireUser resolves the token's identity to a synced user. It must run
// after RequireToken.
func (h *AuthHandler) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.chat.GetUserByIdentityKey(c.Request.Context(), c.GetString(identityKeyKey))
		if errors.Is(err, chat.ErrNotFound) {
			errorJSON(c, http.StatusUnauthorized, "user not synced")
			c.Abort()
			return
		}
		if err != nil {
			respondError(c, h.logger, err)
			c.Abort()
			return
		}

		c.Set(userIDKey, user.ID)
		c.Set(userKey, user)
		c.Next()
	}
}

// Session syncs the caller's profile from the token claims, creating the
// user on first login.
func (h *AuthHandler) Session(c *gin.Context) {
	claims := c.MustGet(claimsKey).(*auth.Claims)
	id := claims.Identity()

	userID, err := h.chat.UpsertUser(c.Request.Context(), id.Key, id.Name, id.Email, id.Picture)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	user, err := h.chat.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(userKey).(*models.User)
}
