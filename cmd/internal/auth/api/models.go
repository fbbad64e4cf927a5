package authapi

import (
	"encoding/json"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
)

type registerRequest struct {
	Email     *string `json:"email"`
	Phone     *string `json:"phone_number"`
	Password  string  `json:"password"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Address   *string `json:"address"`
	Language  string  `json:"language"`
	Timezone  string  `json:"timezone"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type logoutRequest struct {
	Refresh string `json:"refresh"`
}

type profileRequest struct {
	Email          *string `json:"email"`
	Phone          *string `json:"phone_number"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	Address        *string `json:"address"`
	ProfilePicture *string `json:"profile_picture"`
	Language       *string `json:"language"`
	Timezone       *string `json:"timezone"`
}

type settingsRequest struct {
	IsDark             *bool   `json:"is_dark"`
	Language           *string `json:"language"`
	NotifyEmail        *bool   `json:"notify_email"`
	NotifySMS          *bool   `json:"notify_sms"`
	NotifyPush         *bool   `json:"notify_push"`
	PayoutFrequency    *string `json:"payout_frequency"`
	PaymentPreference  *string `json:"payment_preference"`
	PaymentAccountType *string `json:"payment_account_type"`
	ProfileVisibility  *string `json:"profile_visibility"`
}

// stringList accepts either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type tenantRequest struct {
	TenantID  stringList `json:"tenant_id"`
	TenantIDs stringList `json:"tenant_ids"`
	Role      string     `json:"role"`
}

func (r tenantRequest) ids() []string {
	out := make([]string, 0, len(r.TenantID)+len(r.TenantIDs))
	out = append(out, r.TenantID...)
	return append(out, r.TenantIDs...)
}

type userResponse struct {
	ID              string     `json:"id"`
	Email           *string    `json:"email"`
	Phone           *string    `json:"phone_number"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Address         *string    `json:"address"`
	ProfilePicture  *string    `json:"profile_picture"`
	Role            string     `json:"role"`
	IsVerified      bool       `json:"is_verified"`
	IsPhoneVerified bool       `json:"is_phone_verified"`
	Language        string     `json:"language"`
	Timezone        string     `json:"timezone"`
	AccountStatus   string     `json:"account_status"`
	IsActive        bool       `json:"is_active"`
	IsSuperuser     bool       `json:"is_superuser"`
	LastLogin       *time.Time `json:"last_login"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Phone:           u.Phone,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Address:         u.Address,
		ProfilePicture:  u.ProfilePicture,
		Role:            string(u.Role),
		IsVerified:      u.IsVerified,
		IsPhoneVerified: u.IsPhoneVerified,
		Language:        u.Language,
		Timezone:        u.Timezone,
		AccountStatus:   string(u.AccountStatus),
		IsActive:        u.IsActive,
		IsSuperuser:     u.IsSuperuser,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt,
	}
}

type settingsResponse struct {
	IsDark             bool      `json:"is_dark"`
	Language           string    `json:"language"`
	NotifyEmail        bool      `json:"notify_email"`
	NotifySMS          bool      `json:"notify_sms"`
	NotifyPush         bool      `json:"notify_push"`
	PayoutFrequency    string    `json:"payout_frequency"`
	PaymentPreference  string    `json:"payment_preference"`
	PaymentAccountType string    `json:"payment_account_type"`
	ProfileVisibility  string    `json:"profile_visibility"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toSettingsResponse(s identity.Settings) settingsResponse {
	return settingsResponse{
		IsDark:             s.IsDark,
		Language:           s.Language,
		NotifyEmail:        s.NotifyEmail,
		NotifySMS:          s.NotifySMS,
		NotifyPush:         s.NotifyPush,
		PayoutFrequency:    s.PayoutFrequency,
		PaymentPreference:  s.PaymentPreference,
		PaymentAccountType: s.PaymentAccountType,
		ProfileVisibility:  s.ProfileVisibility,
		UpdatedAt:          s.UpdatedAt,
	}
}

type sessionResponse struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

func toSessionResponse(s session.UserSession, currentID string) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		UserAgent: s.UserAgent,
		IP:        s.IP,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		ExpiresAt: s.ExpiresAt,
		Current:   currentID != "" && s.ID == currentID,
	}
}

// tokenResponse is only populated for callers that keep tokens themselves.
type tokenResponse struct {
	Access           string     `json:"access"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	Refresh          string     `json:"refresh,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
}

type loginResponse struct {
	User      userResponse   `json:"user"`
	SessionID string         `json:"session_id"`
	ExpiresAt time.Time      `json:"expires_at"`
	Tokens    *tokenResponse `json:"tokens,omitempty"`
}

type refreshResponse struct {
	SessionID string        `json:"session_id"`
	ExpiresAt time.Time     `json:"expires_at"`
	Tokens    tokenResponse `json:"tokens"`
}

// queryTenantIDs collects ?tenant_id=, ?tenant_ids=a,b and repeated tenant_ids.
func queryTenantIDs(q map[string][]string) []string {
	var out []string
	out = append(out, q["tenant_id"]...)
	for _, v := range q["tenant_ids"] {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}
