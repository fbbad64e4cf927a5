package identity

import (
	"context"
	"strings"
	"time"

	"gatehouse/cmd/identity/ids"
	"gatehouse/cmd/security/password"
)

// User is the Gatehouse security principal.
// At least one of Email and Phone is set.
type User struct {
	ID        string
	Email     *string
	EmailNorm *string
	Phone     *string

	PasswordHash string

	FirstName      string
	LastName       string
	Address        *string
	ProfilePicture *string

	Role            Role
	IsVerified      bool
	IsPhoneVerified bool
	Language        string
	Timezone        string
	AccountStatus   AccountStatus
	IsActive        bool
	IsSuperuser     bool
	OrganizationID  *string

	LastLogin *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanAuthenticate reports whether the account may log in or hold sessions.
func (u User) CanAuthenticate() bool {
	return u.IsActive && (u.AccountStatus == "" || u.AccountStatus == AccountActive)
}

// Settings is the per-user preferences row.
type Settings struct {
	UserID             string
	IsDark             bool
	Language           string
	NotifyEmail        bool
	NotifySMS          bool
	NotifyPush         bool
	PayoutFrequency    string
	PaymentPreference  string
	PaymentAccountType string
	ProfileVisibility  string
	UpdatedAt          time.Time
}

// DefaultSettings is what a new user starts with.
func DefaultSettings(userID, language string, now time.Time) Settings {
	if language == "" {
		language = "en"
	}
	return Settings{
		UserID:             userID,
		Language:           language,
		NotifyEmail:        true,
		NotifyPush:         true,
		PayoutFrequency:    "monthly",
		PaymentPreference:  "platform",
		PaymentAccountType: "individual",
		ProfileVisibility:  "public",
		UpdatedAt:          now,
	}
}

// CreateUserInput is a registration request. Password is plaintext and is
// hashed by the store.
type CreateUserInput struct {
	Email     *string
	Phone     *string
	Password  string
	FirstName string
	LastName  string
	Address   *string
	Role      Role
	Language  string
	Timezone  string

	IsSuperuser bool
	IsVerified  bool

	Now time.Time
}

// ProfilePatch is a partial profile update. Nil fields are left unchanged.
type ProfilePatch struct {
	Email          *string
	Phone          *string
	FirstName      *string
	LastName       *string
	Address        *string
	ProfilePicture *string
	Language       *string
	Timezone       *string
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	IsDark             *bool
	Language           *string
	NotifyEmail        *bool
	NotifySMS          *bool
	NotifyPush         *bool
	PayoutFrequency    *string
	PaymentPreference  *string
	PaymentAccountType *string
	ProfileVisibility  *string
}

// UserFilter narrows ListUsers. Empty fields do not filter.
type UserFilter struct {
	EmailContains string
	IsActive      *bool
	Limit         int
}

// Store is the persistence boundary for users and settings.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, Settings, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindByIdentifier(ctx context.Context, ident Identifier) (User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	UpdateProfile(ctx context.Context, id string, p ProfilePatch, now time.Time) (User, error)
	TouchLastLogin(ctx context.Context, id string, now time.Time) error
	SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error

	GetSettings(ctx context.Context, userID string) (Settings, error)
	UpdateSettings(ctx context.Context, userID string, p SettingsPatch, now time.Time) (Settings, error)

	// DeleteAllUsers removes every user (cascading to settings). Operator reset only.
	DeleteAllUsers(ctx context.Context) (int64, error)
}

const defaultListLimit = 100

// prepareUser validates in and builds the rows CreateUser persists.
// Both store implementations share it so validation cannot drift.
func prepareUser(op string, pw password.Config, in CreateUserInput) (User, Settings, error) {
	email := trimPtr(in.Email)
	phone := trimPtr(in.Phone)
	if email == nil && phone == nil {
		return User{}, Settings{}, FieldError{Op: op, Field: "email_or_phone", Msg: "email or phone number is required"}
	}

	var emailNorm *string
	if email != nil {
		if !emailShape.MatchString(*email) {
			return User{}, Settings{}, FieldError{Op: op, Field: "email", Msg: "invalid email address"}
		}
		emailNorm = strPtr(NormalizeEmail(*email))
	}
	if phone != nil {
		e164, ok := NormalizePhone(*phone)
		if !ok {
			return User{}, Settings{}, FieldError{Op: op, Field: "phone_number", Msg: "invalid phone number"}
		}
		phone = &e164
	}

	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" {
		return User{}, Settings{}, FieldError{Op: op, Field: "first_name", Msg: "required"}
	}
	if last == "" {
		return User{}, Settings{}, FieldError{Op: op, Field: "last_name", Msg: "required"}
	}

	role := in.Role
	if role == "" {
		role = RoleClient
	}
	if !Roles.Has(string(role)) {
		return User{}, Settings{}, FieldError{Op: op, Field: "role", Msg: "unknown role"}
	}
	lang := in.Language
	if lang == "" {
		lang = "en"
	}
	if !Languages.Has(lang) {
		return User{}, Settings{}, FieldError{Op: op, Field: "language", Msg: "unsupported language"}
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if !Timezones.Has(tz) {
		return User{}, Settings{}, FieldError{Op: op, Field: "timezone", Msg: "unsupported timezone"}
	}

	hash, err := pw.Hash(in.Password)
	if err != nil {
		return User{}, Settings{}, FieldError{Op: op, Field: "password", Msg: err.Error()}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, Settings{}, err
	}

	u := User{
		ID:            id,
		Email:         email,
		EmailNorm:     emailNorm,
		Phone:         phone,
		PasswordHash:  hash,
		FirstName:     first,
		LastName:      last,
		Address:       trimPtr(in.Address),
		Role:          role,
		IsVerified:    in.IsVerified,
		Language:      lang,
		Timezone:      tz,
		AccountStatus: AccountActive,
		IsActive:      true,
		IsSuperuser:   in.IsSuperuser,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return u, DefaultSettings(id, lang, now), nil
}

// applyProfilePatch validates p and applies it to u in place.
func applyProfilePatch(op string, u *User, p ProfilePatch) error {
	if p.Email != nil {
		e := trimPtr(p.Email)
		if e != nil && !emailShape.MatchString(*e) {
			return FieldError{Op: op, Field: "email", Msg: "invalid email address"}
		}
		u.Email = e
		u.EmailNorm = nil
		if e != nil {
			u.EmailNorm = strPtr(NormalizeEmail(*e))
		}
	}
	if p.Phone != nil {
		ph := trimPtr(p.Phone)
		if ph != nil {
			e164, ok := NormalizePhone(*ph)
			if !ok {
				return FieldError{Op: op, Field: "phone_number", Msg: "invalid phone number"}
			}
			ph = &e164
		}
		u.Phone = ph
	}
	if u.Email == nil && u.Phone == nil {
		return FieldError{Op: op, Field: "email_or_phone", Msg: "email or phone number is required"}
	}
	if p.FirstName != nil {
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Address != nil {
		u.Address = trimPtr(p.Address)
	}
	if p.ProfilePicture != nil {
		u.ProfilePicture = trimPtr(p.ProfilePicture)
	}
	if p.Language != nil {
		if !Languages.Has(*p.Language) {
			return FieldError{Op: op, Field: "language", Msg: "unsupported language"}
		}
		u.Language = *p.Language
	}
	if p.Timezone != nil {
		if !Timezones.Has(*p.Timezone) {
			return FieldError{Op: op, Field: "timezone", Msg: "unsupported timezone"}
		}
		u.Timezone = *p.Timezone
	}
	return nil
}

// applySettingsPatch validates p and applies it to s in place.
func applySettingsPatch(op string, s *Settings, p SettingsPatch) error {
	checks := []struct {
		field string
		val   *string
		set   Choices
		dst   *string
	}{
		{"language", p.Language, Languages, &s.Language},
		{"payout_frequency", p.PayoutFrequency, PayoutFrequencies, &s.PayoutFrequency},
		{"payment_preference", p.PaymentPreference, PaymentPreferences, &s.PaymentPreference},
		{"payment_account_type", p.PaymentAccountType, PaymentAccountTypes, &s.PaymentAccountType},
		{"profile_visibility", p.ProfileVisibility, ProfileVisibilities, &s.ProfileVisibility},
	}
	for _, c := range checks {
		if c.val != nil && !c.set.Has(*c.val) {
			return FieldError{Op: op, Field: c.field, Msg: "invalid choice: " + *c.val}
		}
	}
	for _, c := range checks {
		if c.val != nil {
			*c.dst = *c.val
		}
	}
	if p.IsDark != nil {
		s.IsDark = *p.IsDark
	}
	if p.NotifyEmail != nil {
		s.NotifyEmail = *p.NotifyEmail
	}
	if p.NotifySMS != nil {
		s.NotifySMS = *p.NotifySMS
	}
	if p.NotifyPush != nil {
		s.NotifyPush = *p.NotifyPush
	}
	return nil
}
