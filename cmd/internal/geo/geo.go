// Package geo resolves client IPs to coarse locations and records where
// users log in from. Lookups run off the request path.
package geo

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"
)

var (
	// ErrNotRoutable is returned for loopback, private and similar addresses
	// that no public database can place.
	ErrNotRoutable = errors.New("ip address is not publicly routable")

	// ErrUnavailable wraps lookup failures after retries.
	ErrUnavailable = errors.New("geolocation unavailable")

	ErrConfig = errors.New("invalid geo config")
)

// IPAddress is a distinct client address.
type IPAddress struct {
	ID        int64
	Address   string
	IsProxy   bool
	IsVPN     bool
	UpdatedAt time.Time
}

// Info is what a lookup returns.
type Info struct {
	IP          string
	CountryCode string
	Country     string
	Region      string
	City        string
	Latitude    *float64
	Longitude   *float64
	ISP         string
	IsProxy     bool
	IsVPN       bool
}

// Location is one (user, ip, is_proxy) observation.
type Location struct {
	UserID string
	Info
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locator resolves an IP.
type Locator interface {
	Lookup(ctx context.Context, ip string) (Info, error)
}

// Store persists observations.
type Store interface {
	// RecordLocation get-or-creates the IpAddress row and upserts the
	// location keyed by (user, ip, is_proxy).
	RecordLocation(ctx context.Context, userID string, info Info, now time.Time) (Location, error)
	ListLocations(ctx context.Context, userID string) ([]Location, error)
}

// Routable parses ip and reports whether it is worth a lookup.
func Routable(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return addr, false
	}
	return addr, true
}
