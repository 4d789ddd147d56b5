package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/crescent-api/internal/models"
	"github.com/noah-isme/crescent-api/internal/service"
	appErrors "github.com/noah-isme/crescent-api/pkg/errors"
	"github.com/noah-isme/crescent-api/pkg/response"
)

// RequireRoles allows the request through only for the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireCapability mirrors the service capability table at the route level.
func RequireCapability(capability service.Capability) gin.HandlerFunc {
	return RequireRoles(service.RolesFor(capability)...)
}
