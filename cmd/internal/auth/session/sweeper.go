package session

import (
	"context"
	"log/slog"
	"time"
)

// Expirer is the part of Store the Sweeper needs.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper deletes expired sessions on a fixed interval.
type Sweeper struct {
	store    Expirer
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time

	// OnSwept, when set, is called after every successful pass.
	OnSwept func(removed int64)
}

func NewSweeper(store Expirer, cfg Config, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.SweepTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().SweepTimeout
	}
	return &Sweeper{
		store:    store,
		interval: cfg.SweepInterval,
		timeout:  timeout,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is done. A non-positive interval returns at once.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("session.sweep.disabled")
		return
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and logs the outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.store.DeleteExpired(sctx, s.now())
	if err != nil {
		s.log.Error("session.sweep.fail", "err", err)
		return 0, err
	}
	s.log.Info("session.sweep.done", "removed", n, "duration_ms", time.Since(start).Milliseconds())
	if s.OnSwept != nil {
		s.OnSwept(n)
	}
	return n, nil
}
