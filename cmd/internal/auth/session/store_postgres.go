package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatehouse/cmd/identity/ids"
	"gatehouse/cmd/internal/pgutil"
	"gatehouse/cmd/security/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over user_sessions and ip_addresses.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the session tables (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgutil.CheckSchema(schema)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}
		s.schema = v
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgutil.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) t(name string) string { return pgutil.Ident(s.schema, name) }

const sessionColumns = `id, user_id, refresh_hash, user_agent, ip_address, ip_address_id, created_at, updated_at, expires_at`

func scanSession(row pgx.Row) (UserSession, error) {
	var us UserSession
	err := row.Scan(
		&us.ID,
		&us.UserID,
		&us.RefreshHash,
		&us.UserAgent,
		&us.IP,
		&us.IPAddressID,
		&us.CreatedAt,
		&us.UpdatedAt,
		&us.ExpiresAt,
	)
	if pgutil.IsNoRows(err) {
		return UserSession{}, ErrNotFound
	}
	return us, err
}

// Upsert runs under a per-user advisory lock so concurrent logins from one
// device converge on a single row.
func (s *PostgresStore) Upsert(ctx context.Context, now time.Time, userID string, fp Fingerprint, refreshHash string, ttl time.Duration) (UserSession, error) {
	if ttl <= 0 {
		return UserSession{}, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	fp = fp.normalized()
	now = now.UTC()
	exp := now.Add(ttl)

	tx, err := pgutil.BeginRW(ctx, s.pool)
	if err != nil {
		return UserSession{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return UserSession{}, err
	}

	ipID, err := s.ipAddressID(ctx, tx, fp.IP, now)
	if err != nil {
		return UserSession{}, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.t("user_sessions")+`
		WHERE user_id = $1 AND user_agent = $2 AND ip_address = $3
		ORDER BY created_at
		FOR UPDATE
	`, userID, fp.UserAgent, fp.IP)
	if err != nil {
		return UserSession{}, err
	}
	existing, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (UserSession, error) {
		return scanSession(r)
	})
	if err != nil {
		return UserSession{}, err
	}

	var out UserSession
	switch len(existing) {
	case 1:
		out, err = scanSession(tx.QueryRow(ctx, `
			UPDATE `+s.t("user_sessions")+`
			SET refresh_hash = $2, expires_at = $3, ip_address_id = $4, updated_at = $5
			WHERE id = $1
			RETURNING `+sessionColumns,
			existing[0].ID, refreshHash, exp, ipID, now))
	default:
		if len(existing) > 1 {
			stale := make([]string, 0, len(existing))
			for _, e := range existing {
				stale = append(stale, e.ID)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM `+s.t("user_sessions")+` WHERE id = ANY($1)`, stale); err != nil {
				return UserSession{}, err
			}
		}
		var id string
		id, err = ids.NewULID(now)
		if err != nil {
			return UserSession{}, err
		}
		out, err = scanSession(tx.QueryRow(ctx, `
			INSERT INTO `+s.t("user_sessions")+` (
				id, user_id, refresh_hash, user_agent, ip_address, ip_address_id,
				created_at, updated_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
			RETURNING `+sessionColumns,
			id, userID, refreshHash, fp.UserAgent, fp.IP, ipID, now, exp))
	}
	if err != nil {
		return UserSession{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return UserSession{}, err
	}
	return out, nil
}

// ipAddressID get-or-creates the ip_addresses row in one statement.
func (s *PostgresStore) ipAddressID(ctx context.Context, tx pgx.Tx, addr string, now time.Time) (*int64, error) {
	if addr == "" {
		return nil, nil
	}
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO `+s.t("ip_addresses")+` (address, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (address) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id
	`, addr, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (UserSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return UserSession{}, ErrNotFound
	}
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM `+s.t("user_sessions")+` WHERE id = $1
	`, id))
}

func (s *PostgresStore) GetByRefreshHash(ctx context.Context, refreshHash string) (UserSession, error) {
	if refreshHash == "" {
		return UserSession{}, ErrNotFound
	}
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM `+s.t("user_sessions")+` WHERE refresh_hash = $1
	`, refreshHash))
}

func (s *PostgresStore) Extend(ctx context.Context, now time.Time, id string, in ExtendInput) (UserSession, error) {
	if in.TTL <= 0 {
		return UserSession{}, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	now = now.UTC()

	tx, err := pgutil.BeginRW(ctx, s.pool)
	if err != nil {
		return UserSession{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanSession(tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM `+s.t("user_sessions")+` WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		return UserSession{}, err
	}
	if cur.IsExpired(now) {
		return UserSession{}, ErrExpired
	}
	if in.ExpectRefreshHash != "" && !token.Equal(in.ExpectRefreshHash, cur.RefreshHash) {
		return UserSession{}, ErrCredentialMismatch
	}

	// Postgres keeps microseconds; compare at that precision.
	exp := nextExpiry(cur.ExpiresAt, now.Truncate(time.Microsecond), in.TTL)
	hash := cur.RefreshHash
	if in.NewRefreshHash != "" {
		hash = in.NewRefreshHash
	}

	out, err := scanSession(tx.QueryRow(ctx, `
		UPDATE `+s.t("user_sessions")+`
		SET refresh_hash = $2, expires_at = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, hash, exp, now))
	if err != nil {
		return UserSession{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return UserSession{}, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("user_sessions")+` WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("user_sessions")+` WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("user_sessions")+` WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]UserSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.t("user_sessions")+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (UserSession, error) {
		return scanSession(r)
	})
}
