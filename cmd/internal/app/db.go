package app

import (
	"context"
	"fmt"
	"time"

	"gatehouse/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool and validates connectivity. A non-public
// cfg.DBSchema becomes the connection search_path, which is where the
// migrations create their tables.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	if schema := dbSchema(cfg); schema != pgutil.DefaultSchema {
		if _, err := pgutil.CheckSchema(schema); err != nil {
			return nil, fmt.Errorf("db schema: %w", err)
		}
		pcfg.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

func dbSchema(cfg Config) string {
	if cfg.DBSchema == "" {
		return pgutil.DefaultSchema
	}
	return cfg.DBSchema
}
