package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var ErrInvalidLockTTL = errors.New("invalid_lock_ttl")

// runLockRelease deletes the lock only while the caller still holds it. A
// plain DEL could drop a lock that expired and was re-acquired by another
// scheduler instance.
const runLockRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RunLocker serializes reconciliation runs across instances: one redis key
// per (period type, report date), held for the duration of the run.
type RunLocker struct {
	client  *redis.Client
	release *redis.Script
}

func NewRunLocker(client *redis.Client) *RunLocker {
	if client == nil {
		return nil
	}
	return &RunLocker{
		client:  client,
		release: redis.NewScript(runLockRelease),
	}
}

func runLockKey(periodType, reportDate string) string {
	return fmt.Sprintf("reconciliation:run:%s:%s", strings.TrimSpace(periodType), strings.TrimSpace(reportDate))
}

// Acquire takes the period lock if nobody holds it. The returned token
// identifies this holder and must be passed back to Release.
func (l *RunLocker) Acquire(ctx context.Context, periodType, reportDate string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		return "", false, ErrInvalidLockTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, runLockKey(periodType, reportDate), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire run lock: %w", err)
	}
	return token, ok, nil
}

// Release drops the period lock if token still owns it. Releasing an expired
// or foreign lock is a no-op.
func (l *RunLocker) Release(ctx context.Context, periodType, reportDate, token string) error {
	if token == "" {
		return nil
	}
	if err := l.release.Run(ctx, l.client, []string{runLockKey(periodType, reportDate)}, token).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
