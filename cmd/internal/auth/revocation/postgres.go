package revocation

import (
	"context"
	"fmt"
	"time"

	"gatehouse/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores revocations in revoked_credentials.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

func NewPostgres(pool *pgxpool.Pool, schema string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("revocation: nil pool")
	}
	if schema == "" {
		schema = pgutil.DefaultSchema
	}
	v, err := pgutil.CheckSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("revocation: %w", err)
	}
	return &Postgres{pool: pool, schema: v}, nil
}

func (p *Postgres) Revoke(ctx context.Context, refreshHash, userID string, until time.Time) error {
	var uid *string
	if userID != "" {
		uid = &userID
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO `+pgutil.Ident(p.schema, "revoked_credentials")+` (refresh_hash, user_id, revoked_at, expires_at)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (refresh_hash) DO UPDATE
		SET expires_at = GREATEST(`+pgutil.Ident(p.schema, "revoked_credentials")+`.expires_at, EXCLUDED.expires_at)
	`, refreshHash, uid, until.UTC())
	return err
}

func (p *Postgres) IsRevoked(ctx context.Context, refreshHash string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM `+pgutil.Ident(p.schema, "revoked_credentials")+`
			WHERE refresh_hash = $1 AND expires_at > now()
		)
	`, refreshHash).Scan(&ok)
	return ok, err
}

// DeleteExpired purges entries past their expiry.
func (p *Postgres) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM `+pgutil.Ident(p.schema, "revoked_credentials")+` WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
