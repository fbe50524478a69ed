// Package session はクライアント側の認証状態を管理します。
//
// 保存済みのトークンは起動時に検証せずに復元します（楽観的復元）。
// トークンが失効していた場合は、最初の更新系呼び出しが CSRF_INVALID を
// 受け取った時点で破棄されます。
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/yourusername/sap-bridge/internal/credential"
	"github.com/yourusername/sap-bridge/internal/relay"
)

// State は認証状態を表します。
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

var (
	// ErrNotAuthenticated は Bundle を持たずに更新系呼び出しを行った場合のエラーです。
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrSessionExpired はバックエンドが Bundle を拒否し、破棄したことを表します。
	ErrSessionExpired = errors.New("session: credentials rejected, login required")
)

// Relay はトークン取得と更新系呼び出しを行うリレーです。relay.Client が実装します。
type Relay interface {
	AcquireToken(ctx context.Context, username, secret string) (credential.Bundle, error)
	Mutate(ctx context.Context, operation string, bundle credential.Bundle, payload []byte) (*relay.Result, error)
}

// Option は Session の設定です。
type Option func(*Session)

// WithLogger はログ出力先を設定します。
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithInvalidationHook は Bundle がバックエンドに拒否された際に呼ばれる関数を設定します。
// 画面側はここでログイン画面へ遷移させます。
func WithInvalidationHook(fn func(code string)) Option {
	return func(s *Session) {
		s.onInvalidate = fn
	}
}

// Session は Bundle を所有する唯一のオブジェクトです。
// 利用側は Storage に直接触れず、ここの操作だけを使います。
type Session struct {
	storage Storage
	relay   Relay
	logger  *log.Logger

	onInvalidate func(code string)

	mu     sync.Mutex
	state  State
	bundle credential.Bundle
}

// New は Session を作成します。状態は CheckAuth を呼ぶまで unknown です。
func New(storage Storage, r Relay, opts ...Option) *Session {
	s := &Session{
		storage: storage,
		relay:   r,
		state:   StateUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State は現在の状態を返します。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bundle は現在の Bundle を返します。認証済みでない場合 ok は false です。
func (s *Session) Bundle() (credential.Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return credential.Bundle{}, false
	}
	return s.bundle, true
}

// CheckAuth は保存済みの Bundle を復元します。通信は行いません。
func (s *Session) CheckAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.storage.Get(KeyToken)
	if err != nil {
		s.logf("check auth: read token: %v", err)
		s.setAnonymousLocked()
		return false
	}
	principal, err := s.storage.Get(KeyPrincipal)
	if err != nil {
		s.logf("check auth: read principal: %v", err)
		s.setAnonymousLocked()
		return false
	}

	if token == "" || principal == "" {
		s.setAnonymousLocked()
		return false
	}

	s.state = StateAuthenticated
	s.bundle = credential.Bundle{Token: token, PrincipalLabel: principal}
	return true
}

// Login はトークン取得リレーを呼び出し、成功時に Bundle を保存します。
// 失敗時は既存の Bundle を変更しません。
func (s *Session) Login(ctx context.Context, username, secret string) bool {
	bundle, err := s.relay.AcquireToken(ctx, username, secret)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logf("login failed: %v", err)
		if s.state == StateUnknown {
			s.setAnonymousLocked()
		}
		return false
	}
	if !bundle.Complete() {
		s.logf("login failed: relay returned no token")
		if s.state == StateUnknown {
			s.setAnonymousLocked()
		}
		return false
	}
	if bundle.PrincipalLabel == "" {
		bundle.PrincipalLabel = username
	}

	if err := s.persistLocked(bundle); err != nil {
		s.logf("login: persist session: %v", err)
		s.clearStorageLocked()
		s.setAnonymousLocked()
		return false
	}

	s.state = StateAuthenticated
	s.bundle = bundle
	return true
}

// Logout は保存済みの Bundle を削除します。バックエンドは呼び出しません。
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearStorageLocked()
	s.setAnonymousLocked()
}

// Mutate は現在の Bundle を付けて更新系リレーを呼び出します。
// CSRF_INVALID / UNAUTHORIZED の場合は Bundle を破棄し、ErrSessionExpired を返します。
// PARSE_ERROR / CONNECTION_FAILED の場合は Bundle を保持したままエラーを返します。
func (s *Session) Mutate(ctx context.Context, operation string, payload []byte) (*relay.Result, error) {
	bundle, ok := s.Bundle()
	if !ok || !bundle.Complete() {
		return nil, ErrNotAuthenticated
	}

	result, err := s.relay.Mutate(ctx, operation, bundle, payload)
	if err == nil {
		return result, nil
	}

	if relay.RequiresReauth(err) {
		var relayErr *relay.Error
		errors.As(err, &relayErr)
		s.invalidate(bundle.Token, relayErr.Code)
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return nil, err
}

// invalidate は呼び出しに使った Bundle がまだ現在のものであれば破棄します。
// 呼び出し中に再ログインされていた場合は新しい Bundle を残します。
func (s *Session) invalidate(token, code string) {
	s.mu.Lock()
	if s.state != StateAuthenticated || s.bundle.Token != token {
		s.mu.Unlock()
		return
	}
	s.logf("session invalidated by backend: %s", code)
	s.clearStorageLocked()
	s.setAnonymousLocked()
	hook := s.onInvalidate
	s.mu.Unlock()

	if hook != nil {
		hook(code)
	}
}

func (s *Session) persistLocked(bundle credential.Bundle) error {
	if err := s.storage.Set(KeyToken, bundle.Token); err != nil {
		return err
	}
	return s.storage.Set(KeyPrincipal, bundle.PrincipalLabel)
}

func (s *Session) clearStorageLocked() {
	if err := s.storage.Remove(KeyToken); err != nil {
		s.logf("remove token: %v", err)
	}
	if err := s.storage.Remove(KeyPrincipal); err != nil {
		s.logf("remove principal: %v", err)
	}
}

func (s *Session) setAnonymousLocked() {
	s.state = StateAnonymous
	s.bundle = credential.Bundle{}
}

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
