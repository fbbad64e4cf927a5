package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatehouse/cmd/internal/pgutil"
	"gatehouse/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
// The pool is owned by the caller and is never closed here.
type PostgresStore struct {
	pool      *pgxpool.Pool
	schema    string
	passwords password.Config
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the identity tables (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgutil.CheckSchema(schema)
		if err != nil {
			return fmt.Errorf("identity: %w", err)
		}
		s.schema = v
		return nil
	}
}

// WithPasswordConfig overrides the hashing parameters used by CreateUser.
func WithPasswordConfig(cfg password.Config) PostgresOption {
	return func(s *PostgresStore) error {
		s.passwords = cfg
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:      pool,
		schema:    pgutil.DefaultSchema,
		passwords: password.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) t(name string) string { return pgutil.Ident(s.schema, name) }

const userColumns = `
	u.id, u.email, u.email_norm, u.phone_number, c.password_hash,
	u.first_name, u.last_name, u.address, u.profile_picture,
	u.role, u.is_verified, u.is_phone_verified, u.language, u.timezone,
	u.account_status, u.is_active, u.is_superuser, u.organization_id,
	u.last_login, u.created_at, u.updated_at`

func (s *PostgresStore) userFrom() string {
	return s.t("users") + ` u JOIN ` + s.t("user_credentials") + ` c ON c.user_id = u.id`
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u      User
		role   string
		status string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.EmailNorm, &u.Phone, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.Address, &u.ProfilePicture,
		&role, &u.IsVerified, &u.IsPhoneVerified, &u.Language, &u.Timezone,
		&status, &u.IsActive, &u.IsSuperuser, &u.OrganizationID,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	u.Role = Role(role)
	u.AccountStatus = AccountStatus(status)
	return u, err
}

// CreateUser inserts the user, its credentials and its settings row in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, Settings, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, Settings{}, err
	}
	u, st, err := prepareUser(op, s.passwords, in)
	if err != nil {
		return User{}, Settings{}, err
	}

	tx, err := pgutil.BeginRW(ctx, s.pool)
	if err != nil {
		return User{}, Settings{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO `+s.t("users")+` (
			id, email, email_norm, phone_number, first_name, last_name, address,
			role, is_verified, language, timezone, account_status, is_active, is_superuser,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		u.ID, u.Email, u.EmailNorm, u.Phone, u.FirstName, u.LastName, u.Address,
		string(u.Role), u.IsVerified, u.Language, u.Timezone, string(u.AccountStatus), u.IsActive, u.IsSuperuser,
		u.CreatedAt,
	)
	if err != nil {
		if c, ok := pgutil.UniqueViolation(err); ok {
			return User{}, Settings{}, ConflictError{Op: op, Field: conflictField(c)}
		}
		return User{}, Settings{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.t("user_credentials")+` (user_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $3)`,
		u.ID, u.PasswordHash, u.CreatedAt,
	); err != nil {
		return User{}, Settings{}, err
	}

	if err := insertSettingsTx(ctx, tx, s.t("user_settings"), st); err != nil {
		return User{}, Settings{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, Settings{}, err
	}
	return u, st, nil
}

func insertSettingsTx(ctx context.Context, tx pgx.Tx, table string, st Settings) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO `+table+` (
			user_id, is_dark, language, notify_email, notify_sms, notify_push,
			payout_frequency, payment_preference, payment_account_type, profile_visibility, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		st.UserID, st.IsDark, st.Language, st.NotifyEmail, st.NotifySMS, st.NotifyPush,
		st.PayoutFrequency, st.PaymentPreference, st.PaymentAccountType, st.ProfileVisibility, st.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUser"

	if strings.TrimSpace(id) == "" {
		return User{}, invalid(op, "missing id")
	}
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.userFrom()+` WHERE u.id = $1`, id))
	if pgutil.IsNoRows(err) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, err
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, ident Identifier) (User, error) {
	const op = "identity.FindByIdentifier"

	var where string
	switch ident.Kind {
	case IdentifierEmail:
		where = `u.email_norm = $1`
	case IdentifierPhone:
		where = `u.phone_number = $1`
	default:
		return User{}, invalid(op, "unknown identifier kind")
	}

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.userFrom()+` WHERE `+where, ident.Value))
	if pgutil.IsNoRows(err) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, err
}

func (s *PostgresStore) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	var (
		conds []string
		args  []any
	)
	if v := strings.TrimSpace(f.EmailContains); v != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(v))+"%")
		conds = append(conds, fmt.Sprintf(`u.email_norm LIKE $%d`, len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		conds = append(conds, fmt.Sprintf(`u.is_active = $%d`, len(args)))
	}
	q := `SELECT ` + userColumns + ` FROM ` + s.userFrom()
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY u.created_at DESC, u.id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateProfile locks the user row, applies p, and writes the result back.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, p ProfilePatch, now time.Time) (User, error) {
	const op = "identity.UpdateProfile"

	if now.IsZero() {
		now = time.Now().UTC()
	}
	tx, err := pgutil.BeginRW(ctx, s.pool)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.userFrom()+` WHERE u.id = $1 FOR UPDATE OF u`, id))
	if pgutil.IsNoRows(err) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}

	if err := applyProfilePatch(op, &u, p); err != nil {
		return User{}, err
	}
	u.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		UPDATE `+s.t("users")+`
		   SET email = $2, email_norm = $3, phone_number = $4,
		       first_name = $5, last_name = $6, address = $7, profile_picture = $8,
		       language = $9, timezone = $10, updated_at = $11
		 WHERE id = $1`,
		u.ID, u.Email, u.EmailNorm, u.Phone,
		u.FirstName, u.LastName, u.Address, u.ProfilePicture,
		u.Language, u.Timezone, u.UpdatedAt,
	)
	if err != nil {
		if c, ok := pgutil.UniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: conflictField(c)}
		}
		return User{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	const op = "identity.TouchLastLogin"

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("users")+` SET last_login = $2 WHERE id = $1`, id, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.t("user_credentials")+` SET password_hash = $2, updated_at = $3 WHERE user_id = $1`,
		id, hash, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

const settingsColumns = `
	user_id, is_dark, language, notify_email, notify_sms, notify_push,
	payout_frequency, payment_preference, payment_account_type, profile_visibility, updated_at`

func scanSettings(row pgx.Row) (Settings, error) {
	var st Settings
	err := row.Scan(
		&st.UserID, &st.IsDark, &st.Language, &st.NotifyEmail, &st.NotifySMS, &st.NotifyPush,
		&st.PayoutFrequency, &st.PaymentPreference, &st.PaymentAccountType, &st.ProfileVisibility, &st.UpdatedAt,
	)
	return st, err
}

func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (Settings, error) {
	const op = "identity.GetSettings"

	st, err := scanSettings(s.pool.QueryRow(ctx,
		`SELECT `+settingsColumns+` FROM `+s.t("user_settings")+` WHERE user_id = $1`, userID))
	if pgutil.IsNoRows(err) {
		return Settings{}, NotFoundError{Op: op, Resource: "settings"}
	}
	return st, err
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, userID string, p SettingsPatch, now time.Time) (Settings, error) {
	const op = "identity.UpdateSettings"

	if now.IsZero() {
		now = time.Now().UTC()
	}
	tx, err := pgutil.BeginRW(ctx, s.pool)
	if err != nil {
		return Settings{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st, err := scanSettings(tx.QueryRow(ctx,
		`SELECT `+settingsColumns+` FROM `+s.t("user_settings")+` WHERE user_id = $1 FOR UPDATE`, userID))
	if pgutil.IsNoRows(err) {
		return Settings{}, NotFoundError{Op: op, Resource: "settings"}
	}
	if err != nil {
		return Settings{}, err
	}

	if err := applySettingsPatch(op, &st, p); err != nil {
		return Settings{}, err
	}
	st.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		UPDATE `+s.t("user_settings")+`
		   SET is_dark = $2, language = $3, notify_email = $4, notify_sms = $5, notify_push = $6,
		       payout_frequency = $7, payment_preference = $8, payment_account_type = $9,
		       profile_visibility = $10, updated_at = $11
		 WHERE user_id = $1`,
		st.UserID, st.IsDark, st.Language, st.NotifyEmail, st.NotifySMS, st.NotifyPush,
		st.PayoutFrequency, st.PaymentPreference, st.PaymentAccountType, st.ProfileVisibility, st.UpdatedAt,
	)
	if err != nil {
		return Settings{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Settings{}, err
	}
	return st, nil
}

func (s *PostgresStore) DeleteAllUsers(ctx context.Context) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.t("users"))
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// conflictField maps a unique constraint to the request field it guards.
func conflictField(constraint string) string {
	switch {
	case constraint == "uq_users_email_norm", strings.Contains(constraint, "email"):
		return "email"
	case constraint == "uq_users_phone_number", strings.Contains(constraint, "phone"):
		return "phone_number"
	default:
		return "unique"
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
