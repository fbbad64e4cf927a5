package credential

import (
	"time"

	"gatehouse/cmd/identity"
)

// TokenType distinguishes the two halves of a pair.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Profile is the user snapshot embedded in every token.
type Profile struct {
	Role           string   `json:"role"`
	IsDark         bool     `json:"is_dark"`
	Email          *string  `json:"email"`
	PhoneNumber    *string  `json:"phone_number,omitempty"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	ProfilePicture *string  `json:"profile_picture"`
	Language       string   `json:"language"`
	Timezone       string   `json:"timezone"`
	IsVerified     bool     `json:"is_verified"`
	LastLogin      *string  `json:"last_login"`
	IsActive       bool     `json:"is_active"`
	IsSuperuser    bool     `json:"is_superuser"`
	Tenants        []string `json:"tenants"`
}

// Claims is a verified (or about to be signed) token.
type Claims struct {
	Subject   string
	ID        string
	Type      TokenType
	Issuer    string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time

	Profile
}

// payload is the non-registered part of the token body, shared by both signers.
type payload struct {
	Type TokenType `json:"typ"`
	Profile
}

// Subject is everything issuance needs to know about a user.
// Settings may be nil, in which case the user's own language is used and
// is_dark is false.
type Subject struct {
	User     identity.User
	Settings *identity.Settings
	Tenants  []string
}

// ProfileOf builds the embedded snapshot for s.
func ProfileOf(s Subject) Profile {
	u := s.User

	p := Profile{
		Role:           string(u.Role),
		Email:          u.Email,
		PhoneNumber:    u.Phone,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		Language:       u.Language,
		Timezone:       u.Timezone,
		IsVerified:     u.IsVerified,
		IsActive:       u.IsActive,
		IsSuperuser:    u.IsSuperuser,
		Tenants:        s.Tenants,
	}
	if s.Settings != nil {
		p.IsDark = s.Settings.IsDark
		if s.Settings.Language != "" {
			p.Language = s.Settings.Language
		}
	}
	if u.LastLogin != nil {
		v := u.LastLogin.UTC().Format(time.RFC3339)
		p.LastLogin = &v
	}
	if p.Tenants == nil {
		p.Tenants = []string{}
	}
	return p
}
