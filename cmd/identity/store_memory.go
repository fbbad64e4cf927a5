package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse/cmd/security/password"
)

// MemoryStore is an in-process Store for development mode and tests.
// It enforces the same uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu        sync.RWMutex
	passwords password.Config
	users     map[string]User
	settings  map[string]Settings
	byEmail   map[string]string
	byPhone   map[string]string
}

func NewMemoryStore(pw password.Config) *MemoryStore {
	return &MemoryStore{
		passwords: pw,
		users:     make(map[string]User),
		settings:  make(map[string]Settings),
		byEmail:   make(map[string]string),
		byPhone:   make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, Settings, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, Settings{}, err
	}
	u, st, err := prepareUser(op, s.passwords, in)
	if err != nil {
		return User{}, Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueLocked(op, "", u); err != nil {
		return User{}, Settings{}, err
	}
	s.putLocked(u)
	s.settings[u.ID] = st
	return u, st, nil
}

func (s *MemoryStore) checkUniqueLocked(op, selfID string, u User) error {
	if u.EmailNorm != nil {
		if id, ok := s.byEmail[*u.EmailNorm]; ok && id != selfID {
			return ConflictError{Op: op, Field: "email"}
		}
	}
	if u.Phone != nil {
		if id, ok := s.byPhone[*u.Phone]; ok && id != selfID {
			return ConflictError{Op: op, Field: "phone_number"}
		}
	}
	return nil
}

func (s *MemoryStore) putLocked(u User) {
	if old, ok := s.users[u.ID]; ok {
		if old.EmailNorm != nil {
			delete(s.byEmail, *old.EmailNorm)
		}
		if old.Phone != nil {
			delete(s.byPhone, *old.Phone)
		}
	}
	s.users[u.ID] = u
	if u.EmailNorm != nil {
		s.byEmail[*u.EmailNorm] = u.ID
	}
	if u.Phone != nil {
		s.byPhone[*u.Phone] = u.ID
	}
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return u, nil
}

func (s *MemoryStore) FindByIdentifier(_ context.Context, ident Identifier) (User, error) {
	const op = "identity.FindByIdentifier"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		id string
		ok bool
	)
	switch ident.Kind {
	case IdentifierEmail:
		id, ok = s.byEmail[ident.Value]
	case IdentifierPhone:
		id, ok = s.byPhone[ident.Value]
	default:
		return User{}, invalid(op, "unknown identifier kind")
	}
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.users[id], nil
}

func (s *MemoryStore) ListUsers(_ context.Context, f UserFilter) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	needle := strings.ToLower(strings.TrimSpace(f.EmailContains))

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if needle != "" && (u.EmailNorm == nil || !strings.Contains(*u.EmailNorm, needle)) {
			continue
		}
		if f.IsActive != nil && u.IsActive != *f.IsActive {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id string, p ProfilePatch, now time.Time) (User, error) {
	const op = "identity.UpdateProfile"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err := applyProfilePatch(op, &u, p); err != nil {
		return User{}, err
	}
	if err := s.checkUniqueLocked(op, id, u); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	u.UpdatedAt = now
	s.putLocked(u)
	return u, nil
}

func (s *MemoryStore) TouchLastLogin(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return NotFoundError{Op: "identity.TouchLastLogin", Resource: "user"}
	}
	u.LastLogin = &now
	s.users[id] = u
	return nil
}

func (s *MemoryStore) SetPasswordHash(_ context.Context, id, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return NotFoundError{Op: "identity.SetPasswordHash", Resource: "user"}
	}
	u.PasswordHash = hash
	u.UpdatedAt = now
	s.users[id] = u
	return nil
}

func (s *MemoryStore) GetSettings(_ context.Context, userID string) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[userID]
	if !ok {
		return Settings{}, NotFoundError{Op: "identity.GetSettings", Resource: "settings"}
	}
	return st, nil
}

func (s *MemoryStore) UpdateSettings(_ context.Context, userID string, p SettingsPatch, now time.Time) (Settings, error) {
	const op = "identity.UpdateSettings"

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settings[userID]
	if !ok {
		return Settings{}, NotFoundError{Op: op, Resource: "settings"}
	}
	if err := applySettingsPatch(op, &st, p); err != nil {
		return Settings{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	st.UpdatedAt = now
	s.settings[userID] = st
	return st, nil
}

func (s *MemoryStore) DeleteAllUsers(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.users))
	s.users = make(map[string]User)
	s.settings = make(map[string]Settings)
	s.byEmail = make(map[string]string)
	s.byPhone = make(map[string]string)
	return n, nil
}

// SetActive flips is_active. Used by tests and the admin tooling.
func (s *MemoryStore) SetActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		u.IsActive = active
		s.users[id] = u
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
