package identity

import (
	"context"
	"testing"
	"time"

	"gatehouse/cmd/internal/pgtest"
)

func mustPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool, schema := pgtest.Open(t)
	s, err := NewPostgresStore(pool, WithSchema(schema), WithPasswordConfig(testPasswords()))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s
}

func TestPostgresStore_CreateUserWithSettings(t *testing.T) {
	t.Parallel()

	s := mustPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	u := mustCreate(t, s, "Ada@Example.com", "+16502530000")

	st, err := s.GetSettings(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if st.UserID != u.ID || st.PayoutFrequency != "monthly" {
		t.Fatalf("settings = %+v", st)
	}

	ident, _ := ClassifyIdentifier("ada@example.com")
	got, err := s.FindByIdentifier(ctx, ident)
	if err != nil || got.ID != u.ID || got.PasswordHash == "" {
		t.Fatalf("FindByIdentifier = %+v, %v", got, err)
	}
}

func TestPostgresStore_ConflictFields(t *testing.T) {
	t.Parallel()

	s := mustPostgresStore(t)
	mustCreate(t, s, "a@x.com", "+16502530000")

	ctx := context.Background()
	_, _, err := s.CreateUser(ctx, CreateUserInput{
		Email: strPtr("A@x.COM"), Password: "blue-kettle-42", FirstName: "b", LastName: "c",
	})
	if ConflictField(err) != "email" {
		t.Fatalf("email conflict: %v", err)
	}
	_, _, err = s.CreateUser(ctx, CreateUserInput{
		Phone: strPtr("650 253 0000"), Password: "blue-kettle-42", FirstName: "b", LastName: "c",
	})
	if ConflictField(err) != "phone_number" {
		t.Fatalf("phone conflict: %v", err)
	}
}

func TestPostgresStore_UpdatesAndFilter(t *testing.T) {
	t.Parallel()

	s := mustPostgresStore(t)
	ctx := context.Background()
	u := mustCreate(t, s, "alice@corp.com", "")
	mustCreate(t, s, "bob@home.net", "")

	p, err := s.UpdateProfile(ctx, u.ID, ProfilePatch{Address: strPtr("1 Main St")}, time.Now().UTC())
	if err != nil || p.Address == nil || *p.Address != "1 Main St" {
		t.Fatalf("UpdateProfile = %+v, %v", p, err)
	}

	dark := true
	st, err := s.UpdateSettings(ctx, u.ID, SettingsPatch{IsDark: &dark}, time.Now().UTC())
	if err != nil || !st.IsDark {
		t.Fatalf("UpdateSettings = %+v, %v", st, err)
	}

	if err := s.TouchLastLogin(ctx, u.ID, time.Now().UTC()); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}

	got, err := s.ListUsers(ctx, UserFilter{EmailContains: "corp"})
	if err != nil || len(got) != 1 || got[0].ID != u.ID || got[0].LastLogin == nil {
		t.Fatalf("ListUsers = %+v, %v", got, err)
	}

	n, err := s.DeleteAllUsers(ctx)
	if err != nil || n != 2 {
		t.Fatalf("DeleteAllUsers = %d, %v", n, err)
	}
	if _, err := s.GetSettings(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("settings should cascade, got %v", err)
	}
}
