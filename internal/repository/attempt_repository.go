package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const attemptKeyPrefix = "links:verify:fail:"

// AttemptRepository counts failed link verifications per scholar in Redis.
// Without a client every call is a no-op and the count stays zero.
type AttemptRepository struct {
	client *redis.Client
}

// NewAttemptRepository constructs the repository.
func NewAttemptRepository(client *redis.Client) *AttemptRepository {
	return &AttemptRepository{client: client}
}

// Failures returns the failure count within the current window.
func (r *AttemptRepository) Failures(ctx context.Context, scholarID string) (int, error) {
	if r == nil || r.client == nil {
		return 0, nil
	}
	n, err := r.client.Get(ctx, attemptKeyPrefix+scholarID).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get attempts: %w", err)
	}
	return n, nil
}

// RecordFailure increments the failure count. The window starts at the first
// failure and is not extended by later ones.
func (r *AttemptRepository) RecordFailure(ctx context.Context, scholarID string, window time.Duration) (int, error) {
	if r == nil || r.client == nil {
		return 0, nil
	}
	key := attemptKeyPrefix + scholarID
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis record attempt: %w", err)
	}
	return int(incr.Val()), nil
}

// Reset clears the failure count after a successful verification.
func (r *AttemptRepository) Reset(ctx context.Context, scholarID string) error {
	if r == nil || r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, attemptKeyPrefix+scholarID).Err(); err != nil {
		return fmt.Errorf("redis reset attempts: %w", err)
	}
	return nil
}
