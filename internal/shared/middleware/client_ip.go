package middleware

import (
	"github.com/gin-gonic/gin"

	"payment-orchestrator/internal/shared/utils"
)

// ClientIP resolves the caller's address once and makes it available both
// on the gin context and on the request context.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := utils.ExtractClientIP(c)
		c.Set("client_ip", clientIP)
		c.Request = c.Request.WithContext(utils.WithClientIP(c.Request.Context(), clientIP))
		c.Next()
	}
}
