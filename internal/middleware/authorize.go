package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authgate/api/internal/models"
)

// Allowed reports whether a role is in the required set. Pure function so
// the policy is testable without an HTTP context.
func Allowed(role models.UserRole, required ...models.UserRole) bool {
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}

func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if !Allowed(user.Role, roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Next()
	}
}
