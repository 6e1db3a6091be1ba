package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	hourKeyFormat = "2006010215"
	dayKeyFormat  = "20060102"
)

// RateLimiter tracks sending rates per sender using fixed-window counters
// in Redis, so counts survive restarts and are shared between instances.
type RateLimiter struct {
	rdb redis.Cmdable
}

// NewRateLimiter creates a new RateLimiter backed by the given Redis client.
func NewRateLimiter(rdb redis.Cmdable) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// CheckAndIncrement checks if the sender is within quota limits and
// increments the counters if allowed. A rejected message is not counted.
// Quota limits of 0 are treated as unlimited.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, sender string, quota *Quota) (allowed bool, hourCount, dayCount int64, err error) {
	if quota == nil {
		return true, 0, 0, nil
	}

	hourKey, dayKey := rl.keys(sender, time.Now())

	hourCount, dayCount, err = rl.counts(ctx, hourKey, dayKey)
	if err != nil {
		return false, 0, 0, err
	}

	if quota.PerHour > 0 && hourCount >= int64(quota.PerHour) {
		return false, hourCount, dayCount, nil
	}
	if quota.PerDay > 0 && dayCount >= int64(quota.PerDay) {
		return false, hourCount, dayCount, nil
	}

	pipe := rl.rdb.TxPipeline()
	pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, time.Hour)
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, hourCount, dayCount, err
	}

	return true, hourCount + 1, dayCount + 1, nil
}

// GetCounts returns the current hour and day counts for a sender without
// incrementing.
func (rl *RateLimiter) GetCounts(ctx context.Context, sender string) (hourCount, dayCount int64, err error) {
	hourKey, dayKey := rl.keys(sender, time.Now())
	return rl.counts(ctx, hourKey, dayKey)
}

func (rl *RateLimiter) keys(sender string, now time.Time) (string, string) {
	hourKey := fmt.Sprintf("ratelimit:hour:%s:%s", sender, now.Format(hourKeyFormat))
	dayKey := fmt.Sprintf("ratelimit:day:%s:%s", sender, now.Format(dayKeyFormat))
	return hourKey, dayKey
}

func (rl *RateLimiter) counts(ctx context.Context, hourKey, dayKey string) (int64, int64, error) {
	values, err := rl.rdb.MGet(ctx, hourKey, dayKey).Result()
	if err != nil {
		return 0, 0, err
	}

	hourCount, err := parseCount(values[0])
	if err != nil {
		return 0, 0, err
	}
	dayCount, err := parseCount(values[1])
	if err != nil {
		return 0, 0, err
	}

	return hourCount, dayCount, nil
}

func parseCount(value interface{}) (int64, error) {
	if value == nil {
		return 0, nil
	}
	raw, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter type %T", value)
	}
	return strconv.ParseInt(raw, 10, 64)
}
