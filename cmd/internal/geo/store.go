package geo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gatehouse/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes ip_addresses and user_locations.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("geo: nil pool")
	}
	if schema == "" {
		schema = pgutil.DefaultSchema
	}
	v, err := pgutil.CheckSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("geo: %w", err)
	}
	return &PostgresStore{pool: pool, schema: v}, nil
}

func (s *PostgresStore) t(name string) string { return pgutil.Ident(s.schema, name) }

const locationColumns = `user_id, ip_address, is_proxy, country_code, country, region, city, latitude, longitude, isp, created_at, updated_at`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(
		&l.UserID, &l.IP, &l.IsProxy,
		&l.CountryCode, &l.Country, &l.Region, &l.City,
		&l.Latitude, &l.Longitude, &l.ISP,
		&l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

func (s *PostgresStore) RecordLocation(ctx context.Context, userID string, info Info, now time.Time) (Location, error) {
	now = now.UTC()

	tx, err := pgutil.BeginRW(ctx, s.pool)
	if err != nil {
		return Location{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.t("ip_addresses")+` (address, is_proxy, is_vpn, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (address) DO UPDATE
		SET is_proxy = EXCLUDED.is_proxy, is_vpn = EXCLUDED.is_vpn, updated_at = EXCLUDED.updated_at
	`, info.IP, info.IsProxy, info.IsVPN, now); err != nil {
		return Location{}, err
	}

	// The key columns never change on conflict; only descriptive fields do.
	loc, err := scanLocation(tx.QueryRow(ctx, `
		INSERT INTO `+s.t("user_locations")+` (
			user_id, ip_address, is_proxy, country_code, country, region, city,
			latitude, longitude, isp, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT ON CONSTRAINT uq_user_locations_key DO UPDATE SET
			country_code = EXCLUDED.country_code,
			country      = EXCLUDED.country,
			region       = EXCLUDED.region,
			city         = EXCLUDED.city,
			latitude     = EXCLUDED.latitude,
			longitude    = EXCLUDED.longitude,
			isp          = EXCLUDED.isp,
			updated_at   = EXCLUDED.updated_at
		RETURNING `+locationColumns,
		userID, info.IP, info.IsProxy, info.CountryCode, info.Country, info.Region, info.City,
		info.Latitude, info.Longitude, info.ISP, now))
	if err != nil {
		return Location{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Location{}, err
	}
	return loc, nil
}

func (s *PostgresStore) ListLocations(ctx context.Context, userID string) ([]Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+locationColumns+` FROM `+s.t("user_locations")+`
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Location, error) {
		return scanLocation(r)
	})
}

type locKey struct {
	user, ip string
	proxy    bool
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	ips  map[string]IPAddress
	locs map[locKey]Location
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ips:  make(map[string]IPAddress),
		locs: make(map[locKey]Location),
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func (m *MemoryStore) RecordLocation(_ context.Context, userID string, info Info, now time.Time) (Location, error) {
	now = now.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	ip, ok := m.ips[info.IP]
	if !ok {
		ip = IPAddress{ID: int64(len(m.ips) + 1), Address: info.IP}
	}
	ip.IsProxy, ip.IsVPN, ip.UpdatedAt = info.IsProxy, info.IsVPN, now
	m.ips[info.IP] = ip

	k := locKey{userID, info.IP, info.IsProxy}
	loc, ok := m.locs[k]
	if !ok {
		loc = Location{UserID: userID, CreatedAt: now}
	}
	loc.Info = info
	loc.UpdatedAt = now
	m.locs[k] = loc
	return loc, nil
}

func (m *MemoryStore) ListLocations(_ context.Context, userID string) ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Location, 0)
	for k, v := range m.locs {
		if k.user == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// IPAddresses returns a snapshot of the recorded addresses.
func (m *MemoryStore) IPAddresses() []IPAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IPAddress, 0, len(m.ips))
	for _, v := range m.ips {
		out = append(out, v)
	}
	return out
}
