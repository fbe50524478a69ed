// Package relay はブラウザとSAPの間でCSRFトークンの取得と更新系呼び出しを中継します。
// いずれのハンドラーも状態を持たず、1リクエストにつき1回だけSAPを呼び出します。
package relay

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/sap-bridge/internal/credential"
	"github.com/yourusername/sap-bridge/internal/sap"
)

// TokenFetcher はSAPのトークン発行エンドポイントを呼び出せるクライアントが実装します。
type TokenFetcher interface {
	FetchToken(ctx context.Context, authorization string) (*sap.Response, error)
}

// TokenHandler は GET /api/sap-proxy のハンドラーを返します。
// Basic 認証ヘッダーをそのままSAPに渡し、発行されたトークンと Cookie をヘッダーで返します。
func TokenHandler(backend TokenFetcher, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := backend.FetchToken(c.Request.Context(), c.GetHeader(credential.AuthorizationHeader))
		if err != nil {
			logf(logger, c, "sap token handshake failed: %v", err)
			respondError(c, http.StatusInternalServerError, CodeConnectionFailed, sap.FailureMessage(err))
			return
		}

		logf(logger, c, "sap token handshake status=%d", res.Status)

		if res.Status < 200 || res.Status > 299 {
			// 失敗時は Bundle を作らずステータスのみ返す
			c.Status(res.Status)
			return
		}

		token := res.Header.Get(credential.TokenHeader)
		if token == "" {
			respondParseError(c, "SAP がトークンを返しませんでした", "")
			return
		}

		c.Header(credential.TokenHeader, token)
		for _, cookie := range res.Header.Values(credential.SetCookieHeader) {
			c.Writer.Header().Add(credential.SetCookieHeader, cookie)
		}
		c.Status(res.Status)
	}
}

func logf(logger *log.Logger, c *gin.Context, format string, args ...any) {
	if logger == nil {
		return
	}
	if id := RequestIDFrom(c); id != "" {
		format = "[" + id + "] " + format
	}
	logger.Printf(format, args...)
}
