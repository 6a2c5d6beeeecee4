package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"guidebook/config"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
)

// AdminTokenMiddleware admits operators presenting the static ADMIN_TOKEN or
// a JWT carrying the admin role.
func AdminTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Missing or invalid Authorization header"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		static := config.AppConfig.AdminToken
		if static != "" && subtle.ConstantTimeCompare([]byte(tokenString), []byte(static)) == 1 {
			c.Set(utils.PrincipalKey, utils.Principal{UserID: "operator", Role: utils.RoleAdmin})
			c.Set("isAdmin", true)
			c.Next()
			return
		}

		p, err := utils.PrincipalFromToken(tokenString)
		if err != nil || p.Role != utils.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Unauthorized admin access"})
			return
		}
		c.Set(utils.PrincipalKey, p)
		c.Set("isAdmin", true)
		c.Next()
	}
}
