package identity

import "strings"

// NormalizeEmail lower-cases and trims an email for uniqueness checks.
// The address as entered is kept separately for display.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string { return &s }
