package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
)

// RevokedTokenKey is where the login service marks signed-out tokens in Redis.
func RevokedTokenKey(token string) string {
	return "revokedToken:" + token
}

// SessionMiddleware rejects anonymous requests and, when Redis is configured, revoked tokens.
// It must run after AuthMiddleware.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, ok := utils.GetUserIdFromContext(ctx); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if rdb := config.GetRedisDB(); rdb != nil {
			token, _ := utils.GetTokenFromContext(ctx)
			revoked, err := rdb.Exists(ctx, RevokedTokenKey(token)).Result()
			if err != nil {
				config.LogError(config.GetLogger(), "SessionMiddleware", "SessionMiddleware", "checking revoked token", nil, err)
			} else if revoked > 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}
		c.Next()
	}
}

// RequireAdmin guards ledger-only corrections.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CtxValue(c.Request.Context())
		if claims == nil || !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
