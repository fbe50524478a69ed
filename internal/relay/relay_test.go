package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/sap-bridge/internal/credential"
	"github.com/yourusername/sap-bridge/internal/sap"
)

const testMaxRequestBytes = 1024

type stubBackend struct {
	res *sap.Response
	err error

	calls     int
	gotAuth   string
	gotPath   string
	gotBundle credential.Bundle
	gotBody   []byte
}

func (s *stubBackend) FetchToken(ctx context.Context, authorization string) (*sap.Response, error) {
	s.calls++
	s.gotAuth = authorization
	return s.res, s.err
}

func (s *stubBackend) Post(ctx context.Context, path string, bundle credential.Bundle, body []byte) (*sap.Response, error) {
	s.calls++
	s.gotPath = path
	s.gotBundle = bundle
	s.gotBody = body
	return s.res, s.err
}

func newRouter(backend *stubBackend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET(TokenRoute, TokenHandler(backend, nil))
	router.POST("/api/pengeluaran", MutationHandler(backend, "/zrestsap/pengeluaran-inl", testMaxRequestBytes, nil))
	return router
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v body=%s", err, rec.Body.String())
	}
	return body
}

func TestTokenHandlerSuccess(t *testing.T) {
	header := http.Header{}
	header.Set("X-CSRF-Token", "issued-token")
	header.Add("Set-Cookie", "SAP_SESSIONID_610=abc; path=/; HttpOnly")
	header.Add("Set-Cookie", "sap-usercontext=sap-client=610; path=/")
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Header: header}}

	req := httptest.NewRequest(http.MethodGet, TokenRoute, nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	newRouter(backend).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Header().Get("X-CSRF-Token") != "issued-token" {
		t.Fatalf("unexpected token header: %q", rec.Header().Get("X-CSRF-Token"))
	}
	if cookies := rec.Header().Values("Set-Cookie"); len(cookies) != 2 {
		t.Fatalf("expected both cookies forwarded, got %#v", cookies)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rec.Body.String())
	}
	if backend.gotAuth != "Basic dXNlcjpwYXNz" {
		t.Fatalf("authorization not forwarded: %q", backend.gotAuth)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestTokenHandlerRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		header := http.Header{}
		header.Set("X-CSRF-Token", "should-not-leak")
		header.Set("Set-Cookie", "SAP_SESSIONID=abc")
		backend := &stubBackend{res: &sap.Response{Status: status, Header: header}}

		req := httptest.NewRequest(http.MethodGet, TokenRoute, nil)
		rec := httptest.NewRecorder()
		newRouter(backend).ServeHTTP(rec, req)

		if rec.Code != status {
			t.Fatalf("status should mirror backend: got %d want %d", rec.Code, status)
		}
		if rec.Header().Get("X-CSRF-Token") != "" || rec.Header().Get("Set-Cookie") != "" {
			t.Fatalf("rejected handshake must not return a bundle: %#v", rec.Header())
		}
	}
}

func TestTokenHandlerMissingToken(t *testing.T) {
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Header: http.Header{}}}

	rec := httptest.NewRecorder()
	newRouter(backend).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, TokenRoute, nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Error != CodeParseError {
		t.Fatalf("unexpected code: %s", body.Error)
	}
}

func TestTokenHandlerConnectionFailed(t *testing.T) {
	backend := &stubBackend{err: errors.New("dial tcp 10.0.0.1:44303: connect: connection refused")}

	rec := httptest.NewRecorder()
	newRouter(backend).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, TokenRoute, nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Error != CodeConnectionFailed {
		t.Fatalf("unexpected code: %s", body.Error)
	}
}

func postMutation(router *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/pengeluaran", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMutationHandlerRelaysJSON(t *testing.T) {
	backend := &stubBackend{res: &sap.Response{Status: http.StatusCreated, Body: []byte(`{"docNumber":"4900001234"}`)}}

	rec := postMutation(newRouter(backend), `{"plant":"IN01"}`, map[string]string{
		"X-CSRF-Token":  "tok",
		"Cookie":        "SAP_SESSIONID_610=abc",
		"Authorization": "Basic dXNlcjpwYXNz",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Body.String() != `{"docNumber":"4900001234"}` {
		t.Fatalf("body should be relayed verbatim: %s", rec.Body.String())
	}
	if backend.gotPath != "/zrestsap/pengeluaran-inl" || string(backend.gotBody) != `{"plant":"IN01"}` {
		t.Fatalf("unexpected forward: path=%s body=%s", backend.gotPath, backend.gotBody)
	}
	want := credential.Bundle{Token: "tok", SessionCookie: "SAP_SESSIONID_610=abc", Authorization: "Basic dXNlcjpwYXNz"}
	if backend.gotBundle != want {
		t.Fatalf("unexpected bundle: %#v", backend.gotBundle)
	}
}

func TestMutationHandlerStatusBeforeBody(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusForbidden, CodeCSRFInvalid},
		{http.StatusUnauthorized, CodeUnauthorized},
	}
	payloads := []string{`{}`, `[]`, `{"items":[{"qty":1}]}`, `"text"`}

	for _, tc := range cases {
		for _, payload := range payloads {
			backend := &stubBackend{res: &sap.Response{Status: tc.status, Body: []byte("<html>error</html>")}}
			rec := postMutation(newRouter(backend), payload, map[string]string{"X-CSRF-Token": "expired"})

			if rec.Code != tc.status {
				t.Fatalf("payload %s: unexpected status %d", payload, rec.Code)
			}
			if body := decodeBody(t, rec); body.Error != tc.code {
				t.Fatalf("payload %s: unexpected code %s", payload, body.Error)
			}
		}
	}
}

func TestMutationHandlerParseError(t *testing.T) {
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Body: []byte("not-json")}}

	rec := postMutation(newRouter(backend), `{}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body.Error != CodeParseError || body.Raw != "not-json" {
		t.Fatalf("unexpected body: %#v", body)
	}
	if !strings.Contains(body.Message, "(text/plain") {
		t.Fatalf("message should carry the detected content type: %q", body.Message)
	}
}

func TestMutationHandlerParseErrorHTML(t *testing.T) {
	page := "<!DOCTYPE html><html><body>Service unavailable</body></html>"
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Body: []byte(page)}}

	rec := postMutation(newRouter(backend), `{}`, nil)

	body := decodeBody(t, rec)
	if body.Error != CodeParseError || !strings.Contains(body.Message, "(text/html") {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestMutationHandlerOversizedBody(t *testing.T) {
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Body: []byte(`{}`)}}

	payload := `{"note":"` + strings.Repeat("x", testMaxRequestBytes) + `"}`
	rec := postMutation(newRouter(backend), payload, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Error != CodeInvalidRequest {
		t.Fatalf("unexpected code: %s", body.Error)
	}
	if backend.calls != 0 {
		t.Fatalf("backend must not be called for an oversized body, calls=%d", backend.calls)
	}

	exact := `{"note":"` + strings.Repeat("x", testMaxRequestBytes-12) + `"}`
	if rec := postMutation(newRouter(backend), exact, nil); rec.Code != http.StatusOK {
		t.Fatalf("body within the limit should be accepted, got %d", rec.Code)
	}
}

func TestMutationHandlerTruncated(t *testing.T) {
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Body: []byte(`{"a":`), Truncated: true}}

	rec := postMutation(newRouter(backend), `{}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Error != CodeParseError {
		t.Fatalf("unexpected code: %s", body.Error)
	}
}

func TestMutationHandlerConnectionFailed(t *testing.T) {
	backend := &stubBackend{err: errors.New("connect: connection refused")}

	rec := postMutation(newRouter(backend), `{}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body.Error != CodeConnectionFailed || body.Message != "connect: connection refused" {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestMutationHandlerInvalidBody(t *testing.T) {
	backend := &stubBackend{}

	for _, payload := range []string{"", "{", "plant=IN01"} {
		rec := postMutation(newRouter(backend), payload, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: unexpected status %d", payload, rec.Code)
		}
		if body := decodeBody(t, rec); body.Error != CodeInvalidRequest {
			t.Fatalf("payload %q: unexpected code %s", payload, body.Error)
		}
	}
	if backend.calls != 0 {
		t.Fatalf("backend must not be called for invalid input, calls=%d", backend.calls)
	}
}

func TestMutationHandlerAbsentHeaders(t *testing.T) {
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Body: []byte(`{}`)}}

	rec := postMutation(newRouter(backend), `{}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if backend.calls != 1 {
		t.Fatalf("backend should still be called, calls=%d", backend.calls)
	}
	if backend.gotBundle != (credential.Bundle{}) {
		t.Fatalf("absent headers should default to empty: %#v", backend.gotBundle)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	backend := &stubBackend{res: &sap.Response{Status: http.StatusOK, Body: []byte(`{}`)}}

	rec := postMutation(newRouter(backend), `{}`, map[string]string{RequestIDHeader: "req-42"})

	if rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("unexpected request id: %q", rec.Header().Get(RequestIDHeader))
	}
}
