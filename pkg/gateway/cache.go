package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/paycore/pkg/logger"
)

// DefaultResponseTTL keeps cached provider responses for a day.
const DefaultResponseTTL = 24 * time.Hour

// CacheStore is the subset of the redis client the response cache needs.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GatewayResponseKey(provider, key string) string
}

// ResponseCache stores successful adapter results keyed by idempotency key.
type ResponseCache struct {
	store CacheStore
	ttl   time.Duration
	logg  *logger.Logger
}

// NewResponseCache returns nil when store is nil so callers can skip caching.
func NewResponseCache(store CacheStore, ttl time.Duration, logg *logger.Logger) *ResponseCache {
	if store == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	return &ResponseCache{store: store, ttl: ttl, logg: logg}
}

func (c *ResponseCache) load(ctx context.Context, key string, dest any) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "cache_key", key), "gateway.cache.read_failed")
		}
		return false
	}
	if strings.TrimSpace(raw) == "" {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

func (c *ResponseCache) save(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, payload, c.ttl); err != nil && c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "cache_key", key), "gateway.cache.write_failed")
	}
}

func cachedCall[T any](ctx context.Context, c *ResponseCache, provider, idemKey string, ok func(T) bool, call func() (T, error)) (T, error) {
	if c == nil || strings.TrimSpace(idemKey) == "" {
		return call()
	}
	key := c.store.GatewayResponseKey(provider, idemKey)
	var cached T
	if c.load(ctx, key, &cached) {
		return cached, nil
	}
	result, err := call()
	if err != nil || !ok(result) {
		return result, err
	}
	c.save(ctx, key, result)
	return result, nil
}

type cachingAdapter struct {
	Adapter
	cache *ResponseCache
}

// WithResponseCache replays successful write results for repeated idempotency
// keys without calling the provider again. Reads and webhook checks pass
// through.
func WithResponseCache(adapter Adapter, cache *ResponseCache) Adapter {
	if cache == nil {
		return adapter
	}
	return &cachingAdapter{Adapter: adapter, cache: cache}
}

func (a *cachingAdapter) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntentResult, error) {
	return cachedCall(ctx, a.cache, a.Provider(), req.IdempotencyKey,
		func(r PaymentIntentResult) bool { return r.OK },
		func() (PaymentIntentResult, error) { return a.Adapter.CreatePaymentIntent(ctx, req) })
}

func (a *cachingAdapter) CaptureOrder(ctx context.Context, orderID string) (CaptureResult, error) {
	key := IdempotencyKey(a.Provider(), "capture", orderID)
	return cachedCall(ctx, a.cache, a.Provider(), key,
		func(r CaptureResult) bool { return r.OK && r.Status == StatusPaid },
		func() (CaptureResult, error) { return a.Adapter.CaptureOrder(ctx, orderID) })
}

func (a *cachingAdapter) CreateSubscriptionPlan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	return cachedCall(ctx, a.cache, a.Provider(), req.IdempotencyKey,
		func(r PlanResult) bool { return r.OK },
		func() (PlanResult, error) { return a.Adapter.CreateSubscriptionPlan(ctx, req) })
}

func (a *cachingAdapter) CreateSubscription(ctx context.Context, req SubscriptionRequest) (SubscriptionResult, error) {
	return cachedCall(ctx, a.cache, a.Provider(), req.IdempotencyKey,
		func(r SubscriptionResult) bool { return r.OK },
		func() (SubscriptionResult, error) { return a.Adapter.CreateSubscription(ctx, req) })
}

func (a *cachingAdapter) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	return cachedCall(ctx, a.cache, a.Provider(), req.IdempotencyKey,
		func(r RefundResult) bool { return r.OK },
		func() (RefundResult, error) { return a.Adapter.Refund(ctx, req) })
}
