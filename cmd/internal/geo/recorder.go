package geo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig sizes the background queue.
type RecorderConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{Workers: 2, QueueSize: 256, JobTimeout: 20 * time.Second}
}

type job struct {
	userID string
	ip     string
}

// Recorder looks up and stores login locations on a bounded worker pool.
// Enqueue never blocks; a full queue drops the job.
type Recorder struct {
	locator Locator
	store   Store
	log     *slog.Logger
	cfg     RecorderConfig
	now     func() time.Time

	jobs chan job
	wg   sync.WaitGroup
	once sync.Once

	// OnResult, when set, observes each job outcome: "ok", "skipped",
	// "failed" or "dropped".
	OnResult func(outcome string)
}

func NewRecorder(locator Locator, store Store, cfg RecorderConfig, log *slog.Logger) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		locator: locator,
		store:   store,
		log:     log,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		jobs:    make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. They exit when ctx is done or Close is called.
func (r *Recorder) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-r.jobs:
					if !ok {
						return
					}
					r.process(ctx, j)
				}
			}
		}()
	}
}

// Close stops accepting jobs and waits for in-flight ones.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.jobs) })
	r.wg.Wait()
}

// RecordLogin queues a lookup for (userID, ip).
func (r *Recorder) RecordLogin(userID, ip string) {
	if _, ok := Routable(ip); !ok {
		r.observe("skipped")
		return
	}
	defer func() {
		// Enqueue after Close is a shutdown race, not a bug worth crashing on.
		if recover() != nil {
			r.observe("dropped")
		}
	}()
	select {
	case r.jobs <- job{userID: userID, ip: ip}:
	default:
		r.log.Warn("geo.record.dropped", "user_id", userID, "reason", "queue_full")
		r.observe("dropped")
	}
}

func (r *Recorder) process(ctx context.Context, j job) {
	jctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	info, err := r.locator.Lookup(jctx, j.ip)
	if errors.Is(err, ErrNotRoutable) {
		r.observe("skipped")
		return
	}
	if err != nil {
		r.log.Warn("geo.lookup.fail", "user_id", j.userID, "err", err)
		r.observe("failed")
		return
	}
	if info.IP == "" {
		info.IP = j.ip
	}
	if _, err := r.store.RecordLocation(jctx, j.userID, info, r.now()); err != nil {
		r.log.Error("geo.record.fail", "user_id", j.userID, "err", err)
		r.observe("failed")
		return
	}
	r.observe("ok")
}

func (r *Recorder) observe(outcome string) {
	if r.OnResult != nil {
		r.OnResult(outcome)
	}
}
