package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// usageTTL keeps a day's counter around long enough for late readers in
// other time zones.
const usageTTL = 48 * time.Hour

// RedisUsageCounter keeps daily AI usage counters in Redis so every server
// instance enforces the same limit.
type RedisUsageCounter struct {
	client *redis.Client
	prefix string
}

var _ UsageCounter = (*RedisUsageCounter)(nil)

// NewRedisUsageCounter creates a counter whose keys start with prefix.
func NewRedisUsageCounter(client *redis.Client, prefix string) *RedisUsageCounter {
	if prefix == "" {
		prefix = "chatflow"
	}
	return &RedisUsageCounter{client: client, prefix: prefix}
}

func (r *RedisUsageCounter) key(tenantID string, day time.Time) string {
	return fmt.Sprintf("%s:usage:%s:%s", r.prefix, tenantID, dayKey(day))
}

// RecordDailyUsage implements UsageCounter.
func (r *RedisUsageCounter) RecordDailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	key := r.key(tenantID, day)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, usageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record usage: %w", err)
	}
	return incr.Val(), nil
}

// DailyUsage implements UsageCounter.
func (r *RedisUsageCounter) DailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	n, err := r.client.Get(ctx, r.key(tenantID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return n, nil
}

// WithUsageCounter returns repo with its usage counters replaced by usage.
func WithUsageCounter(repo Repository, usage UsageCounter) Repository {
	return &splitRepository{Repository: repo, usage: usage}
}

type splitRepository struct {
	Repository
	usage UsageCounter
}

func (s *splitRepository) RecordDailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	return s.usage.RecordDailyUsage(ctx, tenantID, day)
}

func (s *splitRepository) DailyUsage(ctx context.Context, tenantID string, day time.Time) (int64, error) {
	return s.usage.DailyUsage(ctx, tenantID, day)
}
