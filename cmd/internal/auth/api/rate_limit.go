package authapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LoginThrottle counts failed logins per key and blocks a key once its
// budget for the window is spent.
type LoginThrottle interface {
	Blocked(ctx context.Context, key string) (bool, time.Duration, error)
	Failed(ctx context.Context, key string) error
}

// RedisThrottle is a fixed-window counter shared by every instance.
type RedisThrottle struct {
	rdb    redis.Cmdable
	prefix string
	max    int
	window time.Duration
}

func NewRedisThrottle(rdb redis.Cmdable, max int, window time.Duration) *RedisThrottle {
	return &RedisThrottle{rdb: rdb, prefix: "gatehouse:login:", max: max, window: window}
}

func (t *RedisThrottle) Blocked(ctx context.Context, key string) (bool, time.Duration, error) {
	n, err := t.rdb.Get(ctx, t.prefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("authapi: throttle get: %w", err)
	}
	if n < t.max {
		return false, 0, nil
	}
	ttl, err := t.rdb.TTL(ctx, t.prefix+key).Result()
	if err != nil {
		return true, t.window, nil
	}
	if ttl <= 0 {
		ttl = t.window
	}
	return true, ttl, nil
}

func (t *RedisThrottle) Failed(ctx context.Context, key string) error {
	k := t.prefix + key
	n, err := t.rdb.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("authapi: throttle incr: %w", err)
	}
	if n == 1 {
		if err := t.rdb.Expire(ctx, k, t.window).Err(); err != nil {
			return fmt.Errorf("authapi: throttle expire: %w", err)
		}
	}
	return nil
}

// LocalThrottle is an in-process token bucket per key. Each failure spends
// one token; tokens refill at max per window.
type LocalThrottle struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
	now     func() time.Time
}

const localThrottleMaxKeys = 10000

func NewLocalThrottle(max int, window time.Duration) *LocalThrottle {
	if max <= 0 {
		max = 1
	}
	return &LocalThrottle{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Every(window / time.Duration(max)),
		burst:   max,
		now:     time.Now,
	}
}

func (t *LocalThrottle) Blocked(_ context.Context, key string) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.buckets[key]
	if !ok {
		return false, 0, nil
	}
	now := t.now()
	tokens := lim.TokensAt(now)
	if tokens >= 1 {
		return false, 0, nil
	}
	wait := time.Duration((1 - tokens) / float64(t.every) * float64(time.Second))
	return true, wait, nil
}

func (t *LocalThrottle) Failed(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	lim, ok := t.buckets[key]
	if !ok {
		if len(t.buckets) >= localThrottleMaxKeys {
			t.pruneLocked(now)
		}
		lim = rate.NewLimiter(t.every, t.burst)
		t.buckets[key] = lim
	}
	lim.AllowN(now, 1)
	return nil
}

// pruneLocked forgets keys whose bucket has refilled.
func (t *LocalThrottle) pruneLocked(now time.Time) {
	for k, lim := range t.buckets {
		if lim.TokensAt(now) >= float64(t.burst) {
			delete(t.buckets, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
