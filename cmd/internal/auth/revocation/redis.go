package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gatehouse:revoked:"

// Redis stores each revocation as a key that expires with the credential.
type Redis struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedis(rdb redis.Cmdable) (*Redis, error) {
	if rdb == nil {
		return nil, fmt.Errorf("revocation: nil redis client")
	}
	return &Redis{rdb: rdb, now: time.Now}, nil
}

func (r *Redis) Revoke(ctx context.Context, refreshHash, userID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, redisKeyPrefix+refreshHash, userID, ttl).Err()
}

func (r *Redis) IsRevoked(ctx context.Context, refreshHash string) (bool, error) {
	n, err := r.rdb.Exists(ctx, redisKeyPrefix+refreshHash).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
