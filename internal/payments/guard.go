package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GuardStore is the subset of the redis client the guard needs.
type GuardStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookKey(provider, eventID string) string
}

// WebhookGuard drops provider redeliveries at the edge before any database
// work. The processed_events claim stays authoritative.
type WebhookGuard interface {
	CheckAndMark(ctx context.Context, provider, eventID string) (bool, error)
	Delete(ctx context.Context, provider, eventID string) error
}

// IdempotencyGuard is the redis WebhookGuard. Keys are scoped per provider.
type IdempotencyGuard struct {
	store GuardStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store GuardStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether the event was already seen and marks it
// otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, provider, eventID string) (bool, error) {
	key, err := g.key(provider, eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *IdempotencyGuard) Delete(ctx context.Context, provider, eventID string) error {
	key, err := g.key(provider, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *IdempotencyGuard) key(provider, eventID string) (string, error) {
	if provider == "" || eventID == "" {
		return "", errors.New("provider and event id are required")
	}
	return g.store.WebhookKey(provider, eventID), nil
}
