package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKeyUserID is where the middleware stores the validated subject.
const ContextKeyUserID = "user_id"

// Middleware returns a gin handler that validates the Authorization
// header and stores the caller's subject on the request context.
func Middleware(validator *JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		claims, err := validator.ValidateToken(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextKeyUserID, claims.Sub)
		c.Next()
	}
}
