package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SubscriberClaims は購読者トークンのクレーム（ペイロード）を表す。
type SubscriberClaims struct {
	jwt.RegisteredClaims
	// Client は購読クライアントの識別名。
	Client string `json:"client"`
}

// GenerateSubscriberToken は購読クライアント用のJWTトークンを生成する。
// トークン発行エンドポイントが事前共有シークレット認証の後に呼び出す。
func GenerateSubscriberToken(secret, client string) (string, error) {
	claims := SubscriberClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "updatehub",
		},
		Client: client,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// SubscriberAuth は購読者トークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer形式）またはクエリパラメータ
// "token" で渡す。EventSource等のSSEクライアントはリクエストヘッダーを
// 設定できないため、クエリパラメータでの指定を許可している。
// 検証に成功した場合、コンテキストに "client" を設定する。
func SubscriberAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "認証トークンが必要です",
				})
				return
			}

			var found bool
			tokenString, found = strings.CutPrefix(authHeader, "Bearer ")
			if !found {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Bearer トークン形式が不正です",
				})
				return
			}
		}

		claims := &SubscriberClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("client", claims.Client)
		c.Next()
	}
}

// GetClient はGinコンテキストから購読クライアントの識別名を取得する。
// SubscriberAuthミドルウェアが事前に適用されている必要がある。
func GetClient(c *gin.Context) string {
	client, _ := c.Get("client")
	if name, ok := client.(string); ok {
		return name
	}
	return ""
}
