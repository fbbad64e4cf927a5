package tenant

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memKey struct{ user, tenant string }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[memKey]Membership
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[memKey]Membership),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func (m *MemoryStore) List(_ context.Context, userID string) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Membership, 0)
	for k, v := range m.rows {
		if k.user == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *MemoryStore) TenantIDs(ctx context.Context, userID string) ([]string, error) {
	list, _ := m.List(ctx, userID)
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, v.TenantID)
	}
	return out, nil
}

func (m *MemoryStore) Add(_ context.Context, userID, tenantID, role string) (Membership, error) {
	tid, err := checkTenantID(tenantID)
	if err != nil {
		return Membership{}, err
	}
	r, err := checkRole(role)
	if err != nil {
		return Membership{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{userID, tid}
	if _, ok := m.rows[k]; ok {
		return Membership{}, ErrConflict
	}
	now := m.now()
	v := Membership{UserID: userID, TenantID: tid, Role: r, CreatedAt: now, UpdatedAt: now}
	m.rows[k] = v
	return v, nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, userID, tenantID, role string) (Membership, error) {
	tid, err := checkTenantID(tenantID)
	if err != nil {
		return Membership{}, err
	}
	r, err := checkRole(role)
	if err != nil {
		return Membership{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{userID, tid}
	v, ok := m.rows[k]
	if !ok {
		return Membership{}, ErrNotFound
	}
	v.Role = r
	v.UpdatedAt = m.now()
	m.rows[k] = v
	return v, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string, tenantIDs []string) (int64, error) {
	ids := NormalizeIDs(tenantIDs)
	if len(ids) == 0 {
		return 0, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		k := memKey{userID, id}
		if _, ok := m.rows[k]; ok {
			delete(m.rows, k)
			n++
		}
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}
