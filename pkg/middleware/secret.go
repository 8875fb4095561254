package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecretAuth は事前共有シークレットを検証するGinミドルウェアを返す。
// 取り込みAPIはCI/CDパイプライン等の内部クライアントのみが呼び出すため、
// Authorizationヘッダーの値がシークレットと一致することだけを確認する。
// "Bearer <secret>" 形式とシークレットそのままの両方を受け付ける。
func SecretAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証情報が一致しません",
			})
			return
		}

		c.Next()
	}
}
