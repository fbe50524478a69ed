package auth

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// CodeTooManyAttempts はロック中に返すエラーコードです。
const CodeTooManyAttempts = "TOO_MANY_ATTEMPTS"

// Guard はトークン取得リレーの前に置くミドルウェアです。
type Guard struct {
	store  AttemptStore
	policy Policy
	logger *log.Logger
}

// NewGuard は Guard を作成します。
func NewGuard(store AttemptStore, policy Policy, logger *log.Logger) *Guard {
	return &Guard{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Middleware はIPごとの失敗回数を数えるミドルウェアを返します。
// 後続のハンドラーが 401/403 を返した場合に失敗として記録し、2xx で記録を消します。
// ストアの障害時はログを出して通過させます。
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g == nil || !g.policy.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		ip := c.ClientIP()

		retryAfter, err := g.store.LockedFor(ctx, ip)
		if err != nil {
			g.logf("login guard lookup failed ip=%s: %v", ip, err)
		}
		if retryAfter > 0 {
			// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
			c.Header("Retry-After", strconv.FormatInt(retrySeconds(retryAfter), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   CodeTooManyAttempts,
				"message": "一定時間後に再度お試しください",
			})
			return
		}

		c.Next()

		status := c.Writer.Status()
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			remaining, err := g.store.RecordFailure(ctx, ip)
			if err != nil {
				g.logf("login guard record failed ip=%s: %v", ip, err)
				return
			}
			if remaining == 0 {
				g.logf("login locked ip=%s for %s", ip, g.policy.Lock)
			}
		case status >= 200 && status <= 299:
			if err := g.store.Reset(ctx, ip); err != nil {
				g.logf("login guard reset failed ip=%s: %v", ip, err)
			}
		}
	}
}

func retrySeconds(d time.Duration) int64 {
	seconds := int64((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (g *Guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}
