package middleware

import (
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にスタックトレースをログに出力し、500エラーを返す。
// クライアントが既に切断している場合は応答を書き込まずにリクエストを中断する。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			if isBrokenConnection(r) {
				log.Printf("[PANIC] %s %s: 切断済みコネクションへの書き込み: %v", c.Request.Method, c.Request.URL.Path, r)
				c.Abort()
				return
			}

			log.Printf("[PANIC] %s %s: %v\n%s", c.Request.Method, c.Request.URL.Path, r, debug.Stack())
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "内部サーバーエラーが発生しました",
			})
		}()
		c.Next()
	}
}

// isBrokenConnection はパニック値が切断済みコネクションへの書き込みエラーかどうかを判定する。
// SSEストリーミング中にクライアントが切断すると、応答書き込みがパニックとして現れることがある。
func isBrokenConnection(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}

	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}

	var callErr *os.SyscallError
	if !errors.As(opErr.Err, &callErr) {
		return false
	}

	msg := strings.ToLower(callErr.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
