package relay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// クライアントに返すエラーコードです。
const (
	CodeCSRFInvalid      = "CSRF_INVALID"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeParseError       = "PARSE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeInvalidRequest   = "INVALID_REQUEST"
)

// ErrorBody はリレーが返すエラーレスポンスの形式です。
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Raw     string `json:"raw,omitempty"`
}

// Error はリレーから受け取ったエラー応答を表します。
type Error struct {
	Status  int
	Code    string
	Message string
	Raw     string

	err error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay: %s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("relay: %s (status %d): %s", e.Code, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// RequiresReauth はトークンまたは認証が無効になったエラーかどうかを返します。
// 呼び出し側は Bundle を破棄して再ログインさせる必要があります。
func RequiresReauth(err error) bool {
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		return false
	}
	return relayErr.Code == CodeCSRFInvalid || relayErr.Code == CodeUnauthorized
}

// IsTransient は手動の再試行で回復しうるエラーかどうかを返します。
func IsTransient(err error) bool {
	var relayErr *Error
	if !errors.As(err, &relayErr) {
		return false
	}
	return relayErr.Code == CodeParseError || relayErr.Code == CodeConnectionFailed
}

func isKnownCode(code string) bool {
	switch code {
	case CodeCSRFInvalid, CodeUnauthorized, CodeParseError, CodeConnectionFailed, CodeInvalidRequest:
		return true
	default:
		return false
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorBody{Error: code, Message: message})
}

func respondCSRFInvalid(c *gin.Context) {
	respondError(c, http.StatusForbidden, CodeCSRFInvalid, "CSRF トークンの検証に失敗しました")
}

func respondUnauthorized(c *gin.Context) {
	respondError(c, http.StatusUnauthorized, CodeUnauthorized, "認証されていません")
}

func respondParseError(c *gin.Context, message, raw string) {
	c.JSON(http.StatusInternalServerError, ErrorBody{
		Error:   CodeParseError,
		Message: message,
		Raw:     raw,
	})
}
