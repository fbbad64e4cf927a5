// Package admin implements the gatehouse-admin operator commands. Each
// command is explicit; nothing here runs as a side effect of startup.
package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/app"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/migrations"
	"gatehouse/cmd/internal/tenant"
	"gatehouse/cmd/security/password"
)

// ErrUsage is returned for unknown commands and bad flags.
var ErrUsage = errors.New("usage")

const usage = `usage: gatehouse-admin <command> [flags]

commands:
  migrate          apply pending database migrations
  reset -confirm   delete every user (sessions and memberships cascade)
  seed             create a demo user with settings and a tenant (GATEHOUSE_DEBUG=true only)
  sweep            delete expired sessions and revocation rows once
`

// Opener builds the stores for a command. Tests pass in-memory backends.
type Opener func(ctx context.Context, cfg app.Config, pw password.Config, log *slog.Logger) (*app.Backends, error)

// CLI runs one admin command.
type CLI struct {
	Cfg  app.Config
	Log  *slog.Logger
	Out  io.Writer
	Open Opener
	PW   password.Config
	Now  func() time.Time
}

// Run dispatches args[0] and returns ErrUsage for anything it does not know.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if c.Open == nil {
		c.Open = app.OpenBackends
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if len(args) == 0 {
		fmt.Fprint(c.Out, usage)
		return ErrUsage
	}

	switch args[0] {
	case "migrate":
		return c.migrate(ctx, args[1:])
	case "reset":
		return c.reset(ctx, args[1:])
	case "seed":
		return c.seed(ctx, args[1:])
	case "sweep":
		return c.sweep(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(c.Out, usage)
		return nil
	default:
		fmt.Fprint(c.Out, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func (c *CLI) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.Out)
	return fs
}

func (c *CLI) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func (c *CLI) migrate(ctx context.Context, args []string) error {
	if err := c.parse(c.flags("migrate"), args); err != nil {
		return err
	}
	if c.Cfg.DatabaseURL == "" {
		return errors.New("migrate: GATEHOUSE_DATABASE_URL is not set")
	}
	pool, err := app.NewDBPool(ctx, c.Cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Up(ctx, pool); err != nil {
		return err
	}
	v, err := migrations.Version(ctx, pool)
	if err != nil {
		return err
	}
	c.Log.Info("admin.migrate.done", "version", v)
	fmt.Fprintf(c.Out, "schema at version %d\n", v)
	return nil
}

func (c *CLI) reset(ctx context.Context, args []string) error {
	fs := c.flags("reset")
	confirm := fs.Bool("confirm", false, "really delete every user")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if !*confirm {
		return fmt.Errorf("%w: reset refuses to run without -confirm", ErrUsage)
	}

	b, err := c.Open(ctx, c.Cfg, c.PW, c.Log)
	if err != nil {
		return err
	}
	defer b.Close()

	n, err := b.Users.DeleteAllUsers(ctx)
	if err != nil {
		return err
	}
	c.Log.Warn("admin.reset.done", "users_removed", n)
	fmt.Fprintf(c.Out, "removed %d users\n", n)
	return nil
}

func (c *CLI) seed(ctx context.Context, args []string) error {
	fs := c.flags("seed")
	email := fs.String("email", "demo@gatehouse.local", "demo user email")
	pw := fs.String("password", "demo-kettle-42", "demo user password")
	tenantID := fs.String("tenant", "demo", "tenant id to attach")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if !c.Cfg.Debug {
		return errors.New("seed: refusing to run unless GATEHOUSE_DEBUG=true")
	}

	b, err := c.Open(ctx, c.Cfg, c.PW, c.Log)
	if err != nil {
		return err
	}
	defer b.Close()

	addr := strings.TrimSpace(*email)
	u, _, err := b.Users.CreateUser(ctx, identity.CreateUserInput{
		Email:      &addr,
		Password:   *pw,
		FirstName:  "Demo",
		LastName:   "User",
		IsVerified: true,
		Now:        c.Now(),
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if *tenantID != "" {
		if _, err := b.Tenants.Add(ctx, u.ID, *tenantID, tenant.RoleOwner); err != nil {
			return fmt.Errorf("seed: tenant: %w", err)
		}
	}
	c.Log.Info("admin.seed.done", "user_id", u.ID)
	fmt.Fprintf(c.Out, "created user %s (%s)\n", u.ID, addr)
	return nil
}

func (c *CLI) sweep(ctx context.Context, args []string) error {
	if err := c.parse(c.flags("sweep"), args); err != nil {
		return err
	}
	b, err := c.Open(ctx, c.Cfg, c.PW, c.Log)
	if err != nil {
		return err
	}
	defer b.Close()

	var removed int64
	expirers := []session.Expirer{b.Sessions}
	if b.RevokedExpirer != nil {
		expirers = append(expirers, b.RevokedExpirer)
	}
	for _, e := range expirers {
		n, err := e.DeleteExpired(ctx, c.Now())
		if err != nil {
			return err
		}
		removed += n
	}
	c.Log.Info("admin.sweep.done", "removed", removed)
	fmt.Fprintf(c.Out, "removed %d expired rows\n", removed)
	return nil
}
