package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kirimaja/kirimaja/internal/config"
)

const (
	keyWebhookProvider = "webhook:ingress:provider:%s"
	keyWebhookSource   = "webhook:ingress:source:%s:%s"
)

// IngressLimiter throttles webhook deliveries per provider and per source
// address. A nil limiter (no redis configured) allows everything.
type IngressLimiter struct {
	enabled bool

	bucket  *TokenBucket
	runLock *RunLocker

	rate  float64
	burst int
}

func NewIngressLimiter(cfg config.Config) *IngressLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	if cfg.Webhook.RateLimitRate <= 0 || cfg.Webhook.RateLimitBurst <= 0 {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &IngressLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		runLock: NewRunLocker(client),
		rate:    cfg.Webhook.RateLimitRate,
		burst:   cfg.Webhook.RateLimitBurst,
	}
}

func (l *IngressLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowProvider gates the shared per-provider budget.
func (l *IngressLimiter) AllowProvider(ctx context.Context, provider string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookProvider, strings.TrimSpace(provider)), l.rate, l.burst)
}

// AllowSource gates a single caller address within a provider budget.
func (l *IngressLimiter) AllowSource(ctx context.Context, provider, sourceIP string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWebhookSource, strings.TrimSpace(provider), strings.TrimSpace(sourceIP))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// TryRunLock takes the cross-instance lock for one reconciliation period so
// only one scheduler actually runs it.
func (l *IngressLimiter) TryRunLock(ctx context.Context, periodType, reportDate string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.runLock.Acquire(ctx, periodType, reportDate, ttl)
}

func (l *IngressLimiter) ReleaseRunLock(ctx context.Context, periodType, reportDate, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.runLock.Release(ctx, periodType, reportDate, token)
}
