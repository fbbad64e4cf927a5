package identity

// Role is a user's platform-wide role.
type Role string

const (
	RoleClient   Role = "client"
	RoleAdmin    Role = "admin"
	RoleProvider Role = "provider"
)

// AccountStatus is the administrative state of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

var (
	Roles = choiceSet("client", "admin", "provider")

	AccountStatuses = choiceSet("active", "suspended", "closed")

	Languages = choiceSet("en", "es", "fr", "de", "it", "nl", "pt", "zh", "ja", "ko", "hi", "ar")

	Timezones = choiceSet(
		"UTC",
		"US/Pacific", "US/Mountain", "US/Central", "US/Eastern",
		"Europe/London", "Europe/Berlin", "Europe/Paris",
		"Asia/Tokyo", "Asia/Shanghai", "Asia/Seoul", "Asia/Dubai",
		"Australia/Sydney", "Africa/Johannesburg",
		"America/Sao_Paulo", "America/Mexico_City",
		"Asia/Kolkata", "Asia/Jakarta",
	)

	PayoutFrequencies   = choiceSet("daily", "weekly", "monthly")
	PaymentPreferences  = choiceSet("platform", "stripe")
	PaymentAccountTypes = choiceSet("individual", "company")
	ProfileVisibilities = choiceSet("public", "private")
)

// Choices is a closed set of accepted string values.
type Choices map[string]struct{}

func choiceSet(vals ...string) Choices {
	m := make(Choices, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

func (c Choices) Has(v string) bool {
	_, ok := c[v]
	return ok
}
