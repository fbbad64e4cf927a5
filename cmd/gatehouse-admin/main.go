package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gatehouse/cmd/internal/admin"
	"gatehouse/cmd/internal/app"
	"gatehouse/cmd/security/password"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := app.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg := app.LoadConfig()
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	pw, err := password.FromEnv()
	if err != nil {
		log.Error("admin.config.invalid", "err", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cli := &admin.CLI{Cfg: cfg, Log: log, Out: os.Stdout, PW: pw}
	if err := cli.Run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, admin.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		log.Error("admin.fail", "err", err)
		return 1
	}
	return 0
}
