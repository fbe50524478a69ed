package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/sap-bridge/internal/credential"
	"github.com/yourusername/sap-bridge/internal/session"
)

// fakeRelay はリレーの公開エンドポイントを模したサーバーです。
type fakeRelay struct {
	mu       sync.Mutex
	token    string
	cookie   string
	payloads []string
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/sap-proxy":
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set(credential.TokenHeader, f.token)
		http.SetCookie(w, &http.Cookie{Name: "SAP_SESSIONID", Value: f.cookie, Path: "/"})
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == "/api/pengeluaran":
		cookie, err := r.Cookie("SAP_SESSIONID")
		if r.Header.Get(credential.TokenHeader) != f.token || err != nil || cookie.Value != f.cookie {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "CSRF_INVALID"})
			return
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		f.payloads = append(f.payloads, buf.String())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"S","doc":"5000000123"}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRelay) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}

func (f *fakeRelay) rotate(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func newFakeRelay(t *testing.T) (*fakeRelay, *httptest.Server) {
	t.Helper()
	relay := &fakeRelay{token: "tok-1", cookie: "cookie-1"}
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return relay, srv
}

// run はコマンドを新しいプロセスと同じ状態で実行します。
func run(t *testing.T, srv *httptest.Server, stateDir, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cmd := NewRootCmd()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--relay-url", srv.URL, "--state-dir", stateDir}, args...))

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCmd_Properties(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "sapctl", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"login", "status", "logout", "post"}, names)
}

func TestRootCmd_Help(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "--relay-url")
	assert.Contains(t, output, "--state-dir")
	assert.NotContains(t, output, "password", "the secret must not be accepted as a flag")
}

func TestLoginPostLogout(t *testing.T) {
	fake, srv := newFakeRelay(t)
	dir := t.TempDir()
	t.Setenv(passwordEnv, "s3cret")

	stdout, _, err := run(t, srv, dir, "", "login", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "logged in as alice")

	raw, err := os.ReadFile(filepath.Join(dir, sessionFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret", "the password must never be persisted")
	assert.Contains(t, string(raw), "tok-1")

	stdout, _, err = run(t, srv, dir, "", "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "authenticated as alice")

	// Cookie は別プロセスから復元される
	stdout, _, err = run(t, srv, dir, `{"qty":1}`, "post", "pengeluaran", "-")
	require.NoError(t, err)
	assert.Contains(t, stdout, "5000000123")
	assert.Equal(t, []string{`{"qty":1}`}, fake.received())

	_, _, err = run(t, srv, dir, "", "logout")
	require.NoError(t, err)

	stdout, _, err = run(t, srv, dir, "", "status")
	require.NoError(t, err)
	assert.Equal(t, "anonymous\n", stdout)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	_, srv := newFakeRelay(t)
	dir := t.TempDir()
	t.Setenv(passwordEnv, "")

	_, _, err := run(t, srv, dir, "s3cret\n", "login", "-u", "alice")
	require.NoError(t, err)

	_, _, err = run(t, srv, dir, "wrong\n", "login", "-u", "alice")
	require.ErrorIs(t, err, errLoginFailed)

	// 失敗したログインは既存のセッションを消さない
	stdout, _, err := run(t, srv, dir, "", "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "authenticated as alice")
}

func TestPostExpiredSessionClearsState(t *testing.T) {
	fake, srv := newFakeRelay(t)
	dir := t.TempDir()
	t.Setenv(passwordEnv, "s3cret")

	_, _, err := run(t, srv, dir, "", "login", "--user", "alice")
	require.NoError(t, err)

	fake.rotate("tok-2")

	_, stderr, err := run(t, srv, dir, `{}`, "post", "pengeluaran")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
	assert.Contains(t, stderr, "CSRF_INVALID")

	storage := session.NewFileStorage(filepath.Join(dir, sessionFile))
	token, err := storage.Get(session.KeyToken)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestPostRequiresLogin(t *testing.T) {
	_, srv := newFakeRelay(t)

	_, _, err := run(t, srv, t.TempDir(), `{}`, "post", "pengeluaran")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestPostRejectsInvalidPayload(t *testing.T) {
	_, srv := newFakeRelay(t)
	dir := t.TempDir()
	t.Setenv(passwordEnv, "s3cret")

	_, _, err := run(t, srv, dir, "", "login", "--user", "alice")
	require.NoError(t, err)

	_, _, err = run(t, srv, dir, "not json", "post", "pengeluaran", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestPostConnectionFailureKeepsSession(t *testing.T) {
	_, srv := newFakeRelay(t)
	dir := t.TempDir()
	t.Setenv(passwordEnv, "s3cret")

	_, _, err := run(t, srv, dir, "", "login", "--user", "alice")
	require.NoError(t, err)

	srv.Close()

	_, _, err = run(t, srv, dir, `{}`, "post", "pengeluaran")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporary failure")

	storage := session.NewFileStorage(filepath.Join(dir, sessionFile))
	token, err := storage.Get(session.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}
