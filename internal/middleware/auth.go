package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"jcm-p2p-backend/pkg/utils"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey = "userID"
	EmailKey  = "email"
)

// AuthMiddleware guards protected routes: no token is 401, a bad one is 403.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Authorization header; browsers cannot set it on websocket
		// handshakes, so ?access_token= is accepted there instead.
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && c.Query("access_token") != "" {
			authHeader = "Bearer " + c.Query("access_token")
		}
		if authHeader == "" {
			utils.AbortResponse(c, http.StatusUnauthorized, "Access token is missing", nil)
			return
		}

		// 2. Must be "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			utils.AbortResponse(c, http.StatusForbidden, "Invalid token format", nil)
			return
		}

		// 3. Signature and expiry
		claims, err := utils.ValidateToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			utils.AbortResponse(c, http.StatusForbidden, "Invalid or expired token", err.Error())
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(EmailKey, claims.Email)
		c.Next()
	}
}

// UserID reads the identity stored by AuthMiddleware.
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok && id > 0
}
