// internal/workers/capsule/check-capsules/claim.go
package checkcapsules

import (
	"context"
	"time"

	"capsule-notifier/internal/common/database"
)

// Claimer gives one run exclusive ownership of a capsule so overlapping
// runs on different instances do not send it twice.
type Claimer interface {
	Claim(ctx context.Context, capsuleID, runID string) (bool, error)
	Release(ctx context.Context, capsuleID string) error
}

type RedisClaimer struct {
	redis *database.RedisClient
	ttl   time.Duration
}

func NewRedisClaimer(redis *database.RedisClient, ttl time.Duration) *RedisClaimer {
	return &RedisClaimer{redis: redis, ttl: ttl}
}

func (c *RedisClaimer) Claim(ctx context.Context, capsuleID, runID string) (bool, error) {
	return c.redis.SetNX(ctx, claimKey(capsuleID), runID, c.ttl)
}

// Release drops a claim after a failed attempt so the next run retries.
func (c *RedisClaimer) Release(ctx context.Context, capsuleID string) error {
	return c.redis.Del(ctx, claimKey(capsuleID))
}

func claimKey(capsuleID string) string {
	return "claim:capsule:" + capsuleID
}
