package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/pkg/errors"
	"github.com/sungwoon-dev/mealpass/pkg/response"
)

// RequireRole gates a route to the listed roles. The role comes from the JWT
// claims set by Auth; the switch over the closed Role enum is exhaustive so a
// new role cannot silently slip through a string comparison.
func RequireRole(allowed ...models.Role) gin.HandlerFunc {
	allowedSet := make(map[models.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		role, ok := RoleOf(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		switch role {
		case models.RoleStudent, models.RoleTeacher, models.RoleAdmin:
			if _, permitted := allowedSet[role]; permitted {
				c.Next()
				return
			}
		}

		response.Error(c, errors.ErrForbidden)
		c.Abort()
	}
}

// RequireScanner gates scan endpoints to roles allowed to operate a scanner.
func RequireScanner() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := RoleOf(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		if !role.CanScan() {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
