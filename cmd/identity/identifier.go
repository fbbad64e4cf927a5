package identity

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// IdentifierKind is the classified form of a login identifier.
type IdentifierKind int

const (
	IdentifierEmail IdentifierKind = iota + 1
	IdentifierPhone
)

func (k IdentifierKind) String() string {
	switch k {
	case IdentifierEmail:
		return "email"
	case IdentifierPhone:
		return "phone"
	default:
		return "unknown"
	}
}

// Identifier is a classified email or phone number.
// For phones, Value is E.164 (+15551234567).
type Identifier struct {
	Kind  IdentifierKind
	Value string
}

// PhoneRegions are the default regions tried, in order, when a phone number
// is given without a country code.
var PhoneRegions = []string{
	"US", "GB", "CA", "AU", "NZ", "IE", "ZA", "IN", "PH", "SG",
	"NG", "KE", "JM", "TT", "MT", "BB", "GH", "PK", "FJ", "BZ",
}

// emailShape is a prefix match: anything that starts like local@domain.tld
// counts, so "a@b.c@d" is still an email.
var emailShape = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+`)

// ClassifyIdentifier decides whether raw is an email or a phone number.
// Anything shaped like local@domain.tld is an email. Otherwise raw must parse
// as a valid number in one of PhoneRegions. Everything else is a FieldError
// on "identifier".
func ClassifyIdentifier(raw string) (Identifier, error) {
	const op = "identity.ClassifyIdentifier"

	s := strings.TrimSpace(raw)
	if s == "" {
		return Identifier{}, FieldError{Op: op, Field: "identifier", Msg: "email or phone number is required"}
	}
	if emailShape.MatchString(s) {
		return Identifier{Kind: IdentifierEmail, Value: NormalizeEmail(s)}, nil
	}
	if e164, ok := NormalizePhone(s); ok {
		return Identifier{Kind: IdentifierPhone, Value: e164}, nil
	}
	return Identifier{}, FieldError{Op: op, Field: "identifier", Msg: "invalid email or phone number format"}
}

// NormalizePhone returns the E.164 form of raw if it is a valid number in any
// supported region.
func NormalizePhone(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	for _, region := range PhoneRegions {
		num, err := phonenumbers.Parse(s, region)
		if err != nil {
			continue
		}
		if phonenumbers.IsValidNumber(num) {
			return phonenumbers.Format(num, phonenumbers.E164), true
		}
	}
	return "", false
}
