package tenant

import (
	"context"
	"fmt"

	"gatehouse/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over user_tenants.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("tenant: nil pool")
	}
	if schema == "" {
		schema = pgutil.DefaultSchema
	}
	v, err := pgutil.CheckSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("tenant: %w", err)
	}
	return &PostgresStore{pool: pool, schema: v}, nil
}

func (s *PostgresStore) table() string { return pgutil.Ident(s.schema, "user_tenants") }

const membershipColumns = `user_id, tenant_id, role, created_at, updated_at`

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	err := row.Scan(&m.UserID, &m.TenantID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if pgutil.IsNoRows(err) {
		return Membership{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+membershipColumns+` FROM `+s.table()+`
		WHERE user_id = $1
		ORDER BY tenant_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Membership, error) {
		return scanMembership(r)
	})
}

func (s *PostgresStore) TenantIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tenant_id FROM `+s.table()+` WHERE user_id = $1 ORDER BY tenant_id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) Add(ctx context.Context, userID, tenantID, role string) (Membership, error) {
	tid, err := checkTenantID(tenantID)
	if err != nil {
		return Membership{}, err
	}
	r, err := checkRole(role)
	if err != nil {
		return Membership{}, err
	}

	m, err := scanMembership(s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (user_id, tenant_id, role)
		VALUES ($1, $2, $3)
		RETURNING `+membershipColumns,
		userID, tid, r))
	if _, ok := pgutil.UniqueViolation(err); ok {
		return Membership{}, ErrConflict
	}
	if pgutil.IsForeignKeyViolation(err) {
		return Membership{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) UpdateRole(ctx context.Context, userID, tenantID, role string) (Membership, error) {
	tid, err := checkTenantID(tenantID)
	if err != nil {
		return Membership{}, err
	}
	r, err := checkRole(role)
	if err != nil {
		return Membership{}, err
	}
	return scanMembership(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET role = $3, updated_at = now()
		WHERE user_id = $1 AND tenant_id = $2
		RETURNING `+membershipColumns,
		userID, tid, r))
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, tenantIDs []string) (int64, error) {
	ids := NormalizeIDs(tenantIDs)
	if len(ids) == 0 {
		return 0, ErrInvalidInput
	}

	tx, err := pgutil.BeginRW(ctx, s.pool)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM `+s.table()+` WHERE user_id = $1 AND tenant_id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, err
	}
	n := tag.RowsAffected()
	if n == 0 {
		return 0, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}
