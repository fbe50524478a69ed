package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/yourusername/sap-bridge/internal/credential"
	"github.com/yourusername/sap-bridge/internal/sap"
)

// TokenRoute と APIPrefix はリレーが公開するパスです。
const (
	APIPrefix  = "/api"
	TokenRoute = APIPrefix + "/sap-proxy"
)

const maxRelayResponseBytes = 10 * 1024 * 1024

// Result は更新系リレーの成功応答です。
type Result struct {
	Status int
	Body   json.RawMessage
}

// Client はリレーのエンドポイントを呼び出すクライアントです。
// Cookie は Jar に保持され、同一オリジンのブラウザと同様に自動で送信されます。
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient は Client を作成します。httpClient に Jar が無い場合は作成します。
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient.Jar = jar
	}
	return &Client{base: base, http: httpClient}, nil
}

// BaseURL はリレーのベースURLを返します。
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Cookies は Jar が保持しているリレー向けの Cookie を返します。
func (c *Client) Cookies() []*http.Cookie {
	return c.http.Jar.Cookies(c.base)
}

// SetCookies は保存済みの Cookie を Jar に戻します。
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.http.Jar.SetCookies(c.base, cookies)
}

// AcquireToken はトークン取得リレーを呼び出して Bundle を作成します。
func (c *Client) AcquireToken(ctx context.Context, username, secret string) (credential.Bundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+TokenRoute, nil)
	if err != nil {
		return credential.Bundle{}, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(username, secret)

	res, err := c.http.Do(req)
	if err != nil {
		return credential.Bundle{}, connectionError(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxRelayResponseBytes))
	if err != nil {
		return credential.Bundle{}, connectionError(err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return credential.Bundle{}, decodeError(res.StatusCode, body)
	}

	token := res.Header.Get(credential.TokenHeader)
	if token == "" {
		return credential.Bundle{}, &Error{Status: res.StatusCode, Code: CodeParseError, Message: "token header missing"}
	}

	return credential.Bundle{
		Token:          token,
		SessionCookie:  joinCookies(c.Cookies()),
		PrincipalLabel: username,
	}, nil
}

// Mutate は Bundle を付けて更新系リレーを呼び出します。
// Cookie は Jar から送信されるため Bundle の SessionCookie は使いません。
func (c *Client) Mutate(ctx context.Context, operation string, bundle credential.Bundle, payload []byte) (*Result, error) {
	endpoint := c.base.String() + APIPrefix + "/" + url.PathEscape(operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build mutation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	headers := bundle
	headers.SessionCookie = ""
	headers.Apply(req.Header)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, connectionError(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxRelayResponseBytes))
	if err != nil {
		return nil, connectionError(err)
	}

	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return &Result{Status: res.StatusCode, Body: json.RawMessage(body)}, nil
	}

	var errBody ErrorBody
	if json.Unmarshal(body, &errBody) == nil && isKnownCode(errBody.Error) {
		return nil, &Error{Status: res.StatusCode, Code: errBody.Error, Message: errBody.Message, Raw: errBody.Raw}
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, decodeError(res.StatusCode, body)
	}

	// SAP の業務エラー（JSON）はそのまま返す
	return &Result{Status: res.StatusCode, Body: json.RawMessage(body)}, nil
}

func decodeError(status int, body []byte) *Error {
	var errBody ErrorBody
	if len(body) > 0 && json.Unmarshal(body, &errBody) == nil && isKnownCode(errBody.Error) {
		return &Error{Status: status, Code: errBody.Error, Message: errBody.Message, Raw: errBody.Raw}
	}
	switch status {
	case http.StatusForbidden:
		return &Error{Status: status, Code: CodeCSRFInvalid}
	case http.StatusUnauthorized:
		return &Error{Status: status, Code: CodeUnauthorized}
	default:
		return &Error{Status: status, Code: CodeConnectionFailed, Message: http.StatusText(status)}
	}
}

func connectionError(err error) *Error {
	return &Error{Code: CodeConnectionFailed, Message: sap.FailureMessage(err), err: err}
}

func joinCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}
	return strings.Join(parts, "; ")
}
