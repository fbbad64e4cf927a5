package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process List. Entries are dropped lazily once expired.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Revoke(_ context.Context, refreshHash, _ string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[refreshHash]; !ok || until.After(cur) {
		m.entries[refreshHash] = until
	}
	return nil
}

func (m *Memory) IsRevoked(_ context.Context, refreshHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.entries[refreshHash]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.entries, refreshHash)
		return false, nil
	}
	return true, nil
}
