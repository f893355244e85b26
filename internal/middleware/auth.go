package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminAuth requires the admin bearer token. The actor is taken from X-User-ID
// for audit logs.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "FORBIDDEN",
				"message": "Admin API is disabled",
			})
			return
		}

		provided := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "Invalid or missing admin token",
			})
			return
		}

		actor := c.GetHeader("X-User-ID")
		if actor == "" {
			actor = "admin"
		}
		c.Set("actor_id", actor)
		c.Next()
	}
}

// GetActor returns the authenticated admin actor
func GetActor(c *gin.Context) string {
	if actor := c.GetString("actor_id"); actor != "" {
		return actor
	}
	return "admin"
}
