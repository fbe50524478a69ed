// Package auth はトークン取得リレーの前段でログイン試行回数を制限します。
// SAP 側のアカウントロックを避けるため、失敗が続いたクライアントIPを一時的に拒否します。
package auth

import (
	"context"
	"sync"
	"time"
)

// Policy は試行制限の設定です。MaxAttempts が 0 以下の場合は制限しません。
type Policy struct {
	MaxAttempts int
	Window      time.Duration // 失敗回数を数える期間
	Lock        time.Duration // 上限到達後のロック時間
}

// Enabled は制限が有効かどうかを返します。
func (p Policy) Enabled() bool {
	return p.MaxAttempts > 0
}

// AttemptStore は失敗回数とロック状態を保存します。
type AttemptStore interface {
	// LockedFor はロック中であれば残り時間を、そうでなければ 0 を返します。
	LockedFor(ctx context.Context, key string) (time.Duration, error)
	// RecordFailure は失敗を記録し、残りの試行回数を返します。
	RecordFailure(ctx context.Context, key string) (int, error)
	// Reset は記録を削除します。
	Reset(ctx context.Context, key string) error
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// expired はロックが解け、失敗回数の集計期間も過ぎたかどうかを返します。
func (s *attemptState) expired(now time.Time, window time.Duration) bool {
	return !now.Before(s.lockedUntil) && now.Sub(s.firstAttempt) > window
}

const sweepInterval = time.Minute

// MemoryStore はプロセス内で試行回数を管理します。
type MemoryStore struct {
	policy Policy
	now    func() time.Time

	lock      sync.Mutex
	attempts  map[string]*attemptState
	lastSweep time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{
		policy:   policy,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

func (m *MemoryStore) LockedFor(ctx context.Context, key string) (time.Duration, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[key]
	if !ok {
		return 0, nil
	}
	now := m.now()
	if state.expired(now, m.policy.Window) {
		delete(m.attempts, key)
		return 0, nil
	}
	if !now.Before(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

func (m *MemoryStore) RecordFailure(ctx context.Context, key string) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	m.sweepLocked(now)

	state, ok := m.attempts[key]
	if !ok || state.expired(now, m.policy.Window) {
		state = &attemptState{firstAttempt: now}
		m.attempts[key] = state
	}

	state.count++
	if state.count >= m.policy.MaxAttempts {
		state.lockedUntil = now.Add(m.policy.Lock)
		state.count = m.policy.MaxAttempts
	}

	remaining := m.policy.MaxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, key)
	return nil
}

// sweepLocked は期限切れの記録を削除します。呼び出し側で lock を保持している必要があります。
func (m *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for key, state := range m.attempts {
		if state.expired(now, m.policy.Window) {
			delete(m.attempts, key)
		}
	}
}

// Len は記録中のキー数を返します。
func (m *MemoryStore) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.attempts)
}
