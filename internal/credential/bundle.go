// Package credential はリレー間で受け渡す認証情報（トークン・Cookie・利用者名）を定義します。
package credential

import (
	"net/http"
	"strings"
)

const (
	// TokenHeader はSAPが発行するCSRFトークンのヘッダー名です。
	TokenHeader = "x-csrf-token"
	// TokenFetchSentinel はトークン発行を要求するときに送る値です。
	TokenFetchSentinel = "fetch"

	CookieHeader        = "Cookie"
	SetCookieHeader     = "Set-Cookie"
	AuthorizationHeader = "Authorization"
)

// Bundle はSAPに対する認証情報一式です。
// Token が空の Bundle は「存在しない」ものとして扱います。
type Bundle struct {
	Token          string
	SessionCookie  string
	Authorization  string
	PrincipalLabel string
}

// Complete は更新系の呼び出しに使える Bundle かどうかを返します。
func (b Bundle) Complete() bool {
	return b.Token != ""
}

// FromHeader はリクエストヘッダーから Bundle を組み立てます。
// ヘッダーが無い場合は空文字になります。
func FromHeader(h http.Header) Bundle {
	return Bundle{
		Token:         h.Get(TokenHeader),
		SessionCookie: strings.Join(h.Values(CookieHeader), "; "),
		Authorization: h.Get(AuthorizationHeader),
	}
}

// Apply はバックエンド向けのヘッダーを設定します。
// トークンは常に送信し（空でも）、Cookie と Authorization は値がある場合のみ送信します。
func (b Bundle) Apply(h http.Header) {
	h.Set(TokenHeader, b.Token)
	if b.SessionCookie != "" {
		h.Set(CookieHeader, b.SessionCookie)
	}
	if b.Authorization != "" {
		h.Set(AuthorizationHeader, b.Authorization)
	}
}
