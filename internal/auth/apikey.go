package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const headerName = "X-API-Key"

// APIKeyMiddleware guards the admin API. The key is read from X-API-Key or
// an "Authorization: Bearer" header. An empty apiKey disables the check.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				provided = token
			}
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}
