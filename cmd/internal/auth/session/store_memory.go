package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gatehouse/cmd/identity/ids"
	"gatehouse/cmd/security/token"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]UserSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]UserSession)}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func (m *MemoryStore) Upsert(_ context.Context, now time.Time, userID string, fp Fingerprint, refreshHash string, ttl time.Duration) (UserSession, error) {
	if ttl <= 0 {
		return UserSession{}, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	fp = fp.normalized()
	now = now.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []string
	for id, r := range m.rows {
		if r.UserID == userID && r.UserAgent == fp.UserAgent && r.IP == fp.IP {
			matches = append(matches, id)
		}
	}

	if len(matches) == 1 {
		r := m.rows[matches[0]]
		r.RefreshHash = refreshHash
		r.ExpiresAt = now.Add(ttl)
		r.UpdatedAt = now
		m.rows[r.ID] = r
		return r, nil
	}
	for _, id := range matches {
		delete(m.rows, id)
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return UserSession{}, err
	}
	r := UserSession{
		ID:          id,
		UserID:      userID,
		RefreshHash: refreshHash,
		UserAgent:   fp.UserAgent,
		IP:          fp.IP,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	m.rows[id] = r
	return r, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return UserSession{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) GetByRefreshHash(_ context.Context, refreshHash string) (UserSession, error) {
	if refreshHash == "" {
		return UserSession{}, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.RefreshHash == refreshHash {
			return r, nil
		}
	}
	return UserSession{}, ErrNotFound
}

func (m *MemoryStore) Extend(_ context.Context, now time.Time, id string, in ExtendInput) (UserSession, error) {
	if in.TTL <= 0 {
		return UserSession{}, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	now = now.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[id]
	if !ok {
		return UserSession{}, ErrNotFound
	}
	if r.IsExpired(now) {
		return UserSession{}, ErrExpired
	}
	if in.ExpectRefreshHash != "" && !token.Equal(in.ExpectRefreshHash, r.RefreshHash) {
		return UserSession{}, ErrCredentialMismatch
	}

	r.ExpiresAt = nextExpiry(r.ExpiresAt, now, in.TTL)
	if in.NewRefreshHash != "" {
		r.RefreshHash = in.NewRefreshHash
	}
	r.UpdatedAt = now
	m.rows[id] = r
	return r, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *MemoryStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rows {
		if r.UserID == userID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rows {
		if r.IsExpired(now) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID string) ([]UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UserSession, 0)
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
