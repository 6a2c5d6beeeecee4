package middleware

import (
	"net/http"
	"strings"

	"guidebook/utils"

	"github.com/gin-gonic/gin"
)

// JWTAuthMiddleware validates the bearer token and stores the caller's
// Principal in the context.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Missing or invalid Authorization header"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		principal, err := utils.PrincipalFromToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid token"})
			return
		}

		c.Set(utils.PrincipalKey, principal)
		c.Set("userID", principal.UserID)
		c.Next()
	}
}

// CurrentPrincipal returns the Principal set by JWTAuthMiddleware or AdminTokenMiddleware.
func CurrentPrincipal(c *gin.Context) (utils.Principal, bool) {
	raw, exists := c.Get(utils.PrincipalKey)
	if !exists {
		return utils.Principal{}, false
	}
	p, ok := raw.(utils.Principal)
	return p, ok && p.UserID != ""
}
