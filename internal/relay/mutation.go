package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/sap-bridge/internal/credential"
	"github.com/yourusername/sap-bridge/internal/sap"
)

// Forwarder は Bundle 付きでSAPの更新系エンドポイントを呼び出せるクライアントが実装します。
type Forwarder interface {
	Post(ctx context.Context, path string, bundle credential.Bundle, body []byte) (*sap.Response, error)
}

// MutationHandler は POST /api/<operation> のハンドラーを返します。
// 受け取った JSON を path に転送し、SAP のステータスに応じて応答を正規化します。
// maxBody を超えるリクエストボディは INVALID_REQUEST として拒否します。
// 再試行は行いません（再ログインの判断は呼び出し側が行うため）。
func MutationHandler(backend Forwarder, path string, maxBody int64, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBody > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		}
		body, err := c.GetRawData()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(c, http.StatusBadRequest, CodeInvalidRequest,
					fmt.Sprintf("リクエストボディが上限 (%d バイト) を超えています", tooLarge.Limit))
				return
			}
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, "リクエストボディを読み取れません")
			return
		}
		if !json.Valid(body) {
			respondError(c, http.StatusBadRequest, CodeInvalidRequest, "リクエストボディが JSON ではありません")
			return
		}

		bundle := credential.FromHeader(c.Request.Header)
		res, err := backend.Post(c.Request.Context(), path, bundle, body)
		if err != nil {
			logf(logger, c, "sap %s request failed: %v", path, err)
			respondError(c, http.StatusInternalServerError, CodeConnectionFailed, sap.FailureMessage(err))
			return
		}

		logf(logger, c, "sap %s status=%d", path, res.Status)
		translate(c, res, path, logger)
	}
}

// translate は SAP の応答をクライアント向けの応答に変換します。
// ステータスの判定は本文の解析より先に行います。
func translate(c *gin.Context, res *sap.Response, path string, logger *log.Logger) {
	switch res.Status {
	case http.StatusForbidden:
		respondCSRFInvalid(c)
		return
	case http.StatusUnauthorized:
		respondUnauthorized(c)
		return
	}

	if res.Truncated {
		logf(logger, c, "sap %s response exceeded %d bytes", path, len(res.Body))
		respondParseError(c, "SAP の応答が大きすぎます", "")
		return
	}

	if !json.Valid(res.Body) {
		detected := mimetype.Detect(res.Body).String()
		logf(logger, c, "sap %s returned non-JSON body (detected %s)", path, detected)
		respondParseError(c, fmt.Sprintf("SAP から不正な応答を受け取りました (%s)", detected), string(res.Body))
		return
	}

	c.Data(res.Status, "application/json; charset=utf-8", res.Body)
}
