// Package tenant tracks which tenants (organizations) a user belongs to.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("tenant membership not found")
	ErrConflict     = errors.New("tenant membership already exists")
	ErrInvalidInput = errors.New("invalid tenant input")
)

// Membership links a user to a tenant.
type Membership struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// MaxTenantIDLen matches the column check constraint.
const MaxTenantIDLen = 128

type Store interface {
	List(ctx context.Context, userID string) ([]Membership, error)
	TenantIDs(ctx context.Context, userID string) ([]string, error)
	Add(ctx context.Context, userID, tenantID, role string) (Membership, error)
	UpdateRole(ctx context.Context, userID, tenantID, role string) (Membership, error)

	// Delete removes the caller's memberships for tenantIDs and returns how
	// many went. Zero removals is ErrNotFound.
	Delete(ctx context.Context, userID string, tenantIDs []string) (int64, error)
}

func checkTenantID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxTenantIDLen {
		return "", fmt.Errorf("%w: tenant_id", ErrInvalidInput)
	}
	return id, nil
}

func checkRole(role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "":
		return RoleMember, nil
	case RoleMember, RoleAdmin, RoleOwner:
		return role, nil
	default:
		return "", fmt.Errorf("%w: role", ErrInvalidInput)
	}
}

// NormalizeIDs trims, drops blanks and removes duplicates, keeping order.
func NormalizeIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
