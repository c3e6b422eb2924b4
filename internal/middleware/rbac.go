package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/lexora/lexora-api/internal/models"
	appErrors "github.com/lexora/lexora-api/pkg/errors"
	"github.com/lexora/lexora-api/pkg/response"
)

// RequireRoles blocks requests whose principal is not in the allowed set.
// Row-level visibility is still decided per case by the access scope layer;
// this gate only excludes whole role groups from an endpoint.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
