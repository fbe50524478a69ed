// Package sap はSAPバックエンドへのHTTP呼び出しを提供します。
// 業務データの中身は解釈せず、ステータスコードと認証ヘッダーのみを扱います。
package sap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/yourusername/sap-bridge/internal/credential"
)

// Doer は http.Client と同じ Do を持つHTTPクライアントの抽象です。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response はバックエンドの応答です。
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	Truncated bool // 上限サイズを超えたため Body が途中までしか無い
}

// Client はSAPのトークン発行・更新系エンドポイントを呼び出すクライアントです。
type Client struct {
	baseURL   string
	tokenPath string
	http      Doer
	maxBody   int64
}

// NewClient は Client を作成します。
func NewClient(baseURL, tokenPath string, httpClient Doer, maxBody int64) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokenPath: tokenPath,
		http:      httpClient,
		maxBody:   maxBody,
	}
}

// FetchToken はBasic認証ヘッダーを付けてトークン発行エンドポイントを呼び出します。
func (c *Client) FetchToken(ctx context.Context, authorization string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.tokenPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set(credential.AuthorizationHeader, authorization)
	req.Header.Set(credential.TokenHeader, credential.TokenFetchSentinel)
	return c.do(req)
}

// Post は Bundle のヘッダーを付けて JSON を path に送信します。
func (c *Client) Post(ctx context.Context, path string, bundle credential.Bundle, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	bundle.Apply(req.Header)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sap request failed: %w", err)
	}
	defer res.Body.Close()

	out := &Response{
		Status: res.StatusCode,
		Header: res.Header,
	}

	// 401/403 はエラーページ(HTML)が返るため本文は読まない
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return out, nil
	}

	reader := io.Reader(res.Body)
	if c.maxBody > 0 {
		reader = io.LimitReader(res.Body, c.maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read sap response: %w", err)
	}
	if c.maxBody > 0 && int64(len(body)) > c.maxBody {
		body = body[:c.maxBody]
		out.Truncated = true
	}
	out.Body = body
	return out, nil
}

// FailureMessage は通信エラーから利用者向けのメッセージを取り出します。
// URL を含む *url.Error の外側は取り除きます。
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}
