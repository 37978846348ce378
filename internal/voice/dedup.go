package voice

import (
	"context"
	"time"

	"voip-dashboard/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Deduper claims provider event ids so exact redeliveries can be skipped.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

const dedupKeyPrefix = "webhook:voice:"

type RedisDeduper struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisDeduper(rdb redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return utils.ClaimOnce(ctx, d.rdb, dedupKeyPrefix+eventID, d.ttl)
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return utils.ReleaseClaim(ctx, d.rdb, dedupKeyPrefix+eventID)
}
