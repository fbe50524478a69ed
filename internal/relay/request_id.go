package relay

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader はリクエスト追跡用のヘッダー名です。
const RequestIDHeader = "X-Request-Id"

const (
	contextRequestIDKey = "relay.requestID"
	maxRequestIDLength  = 128
)

// RequestID はリクエストごとにIDを割り当てるミドルウェアです。
// 受信したIDが妥当であればそのまま使います。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestIDFrom はコンテキストに保存されたリクエストIDを返します。
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(contextRequestIDKey)
}
