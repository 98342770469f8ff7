package middleware

import (
	"github.com/gin-gonic/gin"
)

// UserIdHeaders are accepted in priority order; the gateway sets the first,
// older clients still send the second.
var UserIdHeaders = []string{"X-CLOAKER-USER-ID", "X-USER-ID"}

func UserIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := ""
		for _, header := range UserIdHeaders {
			if value := c.GetHeader(header); value != "" {
				userId = value
				break
			}
		}

		// Store in gin context for later use
		c.Set("UserId", userId)
		c.Next()
	}
}
