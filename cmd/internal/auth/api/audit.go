package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"gatehouse/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	Action    string
	UserID    string
	SessionID string
	IP        string
	UserAgent string
	Meta      map[string]any
}

// Auditor records events. Implementations must not fail the request.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// PostgresAuditor appends to the audit_log table.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) *PostgresAuditor {
	if schema == "" {
		schema = "public"
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{pool: pool, table: pgutil.Ident(schema, "audit_log"), log: log}
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	action := strings.TrimSpace(ev.Action)
	if a == nil || a.pool == nil || action == "" {
		return
	}

	var meta *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			meta = &s
		}
	}

	_, err := a.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, session_id, action, ip, user_agent, meta)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, a.table), nilIfBlank(ev.UserID), nilIfBlank(ev.SessionID), action, nilIfBlank(ev.IP), nilIfBlank(ev.UserAgent), meta)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

// LogAuditor writes events to the structured log. Used with the memory backend.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Record(_ context.Context, ev AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("audit", "action", ev.Action, "user_id", ev.UserID, "session_id", ev.SessionID, "ip", ev.IP)
}

func nilIfBlank(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
