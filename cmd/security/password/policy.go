package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy violations. Handlers surface their text as the password field error.
var (
	ErrPasswordTooShort = errors.New("password is shorter than the minimum length")
	ErrPasswordTooLong  = errors.New("password exceeds the maximum length")
	ErrWeakPassword     = errors.New("password is too common or too simple")
)

// Validate checks pw against the policy. Length is counted in runes.
func (c Config) Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(pw):
		return ErrWeakPassword
	}
	return nil
}

var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"iloveyou":    {},
	"letmein123":  {},
	"11111111":    {},
}

// looksVeryWeak catches the handful of patterns that show up in every breach list.
// It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := commonPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	sameRune, digitsOnly := true, true
	for _, r := range s {
		if r != first {
			sameRune = false
		}
		if !unicode.IsDigit(r) {
			digitsOnly = false
		}
	}
	if sameRune {
		return true
	}
	return digitsOnly && utf8.RuneCountInString(s) < 12
}
