package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RetryLedger keeps the last failure time of each job in Redis so the retry
// cool-down still holds after the process restarts.
type RetryLedger struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRetryLedger(client *redis.Client, keyPrefix string, ttl time.Duration) *RetryLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RetryLedger{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (l *RetryLedger) key(jobID string) string {
	return l.keyPrefix + "retry:" + jobID
}

func (l *RetryLedger) RecordFailure(ctx context.Context, jobID string, at time.Time) error {
	key := l.key(jobID)
	pipe := l.client.TxPipeline()
	pipe.HSet(ctx, key, "last_failure", strconv.FormatInt(at.UnixNano(), 10))
	pipe.Expire(ctx, key, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "record failure for job %s", jobID)
	}
	return nil
}

func (l *RetryLedger) LastFailure(ctx context.Context, jobID string) (time.Time, bool, error) {
	v, err := l.client.HGet(ctx, l.key(jobID), "last_failure").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, errors.Wrapf(err, "read last failure for job %s", jobID)
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "parse last failure for job %s", jobID)
	}
	return time.Unix(0, ns).UTC(), true, nil
}

func (l *RetryLedger) Forget(ctx context.Context, jobID string) error {
	if err := l.client.Del(ctx, l.key(jobID)).Err(); err != nil {
		return errors.Wrapf(err, "forget job %s", jobID)
	}
	return nil
}
