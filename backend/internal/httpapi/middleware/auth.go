package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware verifies the bearer token locally and stores userId,
// username and avatar in the gin context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c.Request.Header.Get("Authorization"))
		if tokenString == "" {
			// 兼容 WebSocket：浏览器无法自定义 Header，允许从 query ?token= 中获取
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "Authorization header is missing or invalid",
			})
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrNotAccessToken) {
				msg = err.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": msg,
			})
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("avatar", claims.Avatar)
		c.Next()
	}
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	// "Bearer " 前缀大小写不敏感
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
