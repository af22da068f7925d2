package shipping

import (
	"context"
	"sync"
	"time"
)

// TokenStore shares a bearer token between processes. The zero-dependency
// default keeps it in memory only.
type TokenStore interface {
	Load(ctx context.Context) (token string, expiresAt time.Time, err error)
	Store(ctx context.Context, token string, expiresAt time.Time) error
	Invalidate(ctx context.Context) error
}

type memoryTokens struct {
	mu  sync.Mutex
	tok string
	exp time.Time
}

func (m *memoryTokens) Load(context.Context) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, m.exp, nil
}

func (m *memoryTokens) Store(_ context.Context, tok string, exp time.Time) error {
	m.mu.Lock()
	m.tok, m.exp = tok, exp
	m.mu.Unlock()
	return nil
}

func (m *memoryTokens) Invalidate(context.Context) error {
	m.mu.Lock()
	m.tok, m.exp = "", time.Time{}
	m.mu.Unlock()
	return nil
}
