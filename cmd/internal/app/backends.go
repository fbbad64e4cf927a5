package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatehouse/cmd/identity"
	authapi "gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/revocation"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/geo"
	"gatehouse/cmd/internal/migrations"
	"gatehouse/cmd/internal/tenant"
	"gatehouse/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backends are the persistence collaborators shared by the server and the
// admin CLI. Without GATEHOUSE_DATABASE_URL every store is in memory.
type Backends struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Users    identity.Store
	Sessions session.Store
	Tenants  tenant.Store
	Revoked  revocation.List
	Geo      geo.Store
	Audit    authapi.Auditor

	// RevokedExpirer is set when the blacklist keeps rows that need sweeping.
	RevokedExpirer session.Expirer
}

// OpenBackends connects to Postgres and Redis as configured, applies
// migrations when cfg.DBMigrate is set, and builds the stores.
func OpenBackends(ctx context.Context, cfg Config, pw password.Config, log Logger) (*Backends, error) {
	b := &Backends{}

	if cfg.RedisURL != "" {
		rdb, err := newRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.Redis = rdb
		log.Info("redis.enabled")
	}

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		b.Users = identity.NewMemoryStore(pw)
		b.Sessions = session.NewMemoryStore()
		b.Tenants = tenant.NewMemoryStore()
		b.Geo = geo.NewMemoryStore()
		b.Audit = authapi.LogAuditor{Log: log}
	} else {
		if err := b.openPostgres(ctx, cfg, pw, log); err != nil {
			b.Close()
			return nil, err
		}
	}

	if err := b.openRevocation(dbSchema(cfg)); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) openPostgres(ctx context.Context, cfg Config, pw password.Config, log Logger) error {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	b.Pool = pool
	log.Info("db.enabled.postgres_store", "schema", dbSchema(cfg))

	if cfg.DBMigrate {
		mctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := migrations.Up(mctx, pool); err != nil {
			return err
		}
		v, _ := migrations.Version(mctx, pool)
		log.Info("db.migrate.done", "version", v)
	}

	schema := dbSchema(cfg)
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema), identity.WithPasswordConfig(pw))
	if err != nil {
		return err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(schema))
	if err != nil {
		return err
	}
	tenants, err := tenant.NewPostgresStore(pool, schema)
	if err != nil {
		return err
	}
	locations, err := geo.NewPostgresStore(pool, schema)
	if err != nil {
		return err
	}

	b.Users = users
	b.Sessions = sessions
	b.Tenants = tenants
	b.Geo = locations
	b.Audit = authapi.NewPostgresAuditor(pool, schema, log)
	return nil
}

// openRevocation picks the blacklist backend. The default follows the
// deployment: postgres with a database, memory without one.
func (b *Backends) openRevocation(schema string) error {
	def := revocation.BackendMemory
	if b.Pool != nil {
		def = revocation.BackendPostgres
	}
	backend, err := revocation.BackendFromEnv(def)
	if err != nil {
		return err
	}

	switch backend {
	case revocation.BackendNone:
		b.Revoked = revocation.Disabled{}
	case revocation.BackendMemory:
		b.Revoked = revocation.NewMemory()
	case revocation.BackendRedis:
		if b.Redis == nil {
			return fmt.Errorf("%w: redis backend needs GATEHOUSE_REDIS_URL", revocation.ErrConfig)
		}
		r, err := revocation.NewRedis(b.Redis)
		if err != nil {
			return err
		}
		b.Revoked = r
	case revocation.BackendPostgres:
		if b.Pool == nil {
			return fmt.Errorf("%w: postgres backend needs GATEHOUSE_DATABASE_URL", revocation.ErrConfig)
		}
		p, err := revocation.NewPostgres(b.Pool, schema)
		if err != nil {
			return err
		}
		b.Revoked = p
		b.RevokedExpirer = p
	}
	return nil
}

// Close releases the pool and the Redis client.
func (b *Backends) Close() {
	if b == nil {
		return
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}

func newRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Join(errors.New("redis: ping failed"), err)
	}
	return rdb, nil
}
