// Package idempotency deduplicates Pub/Sub deliveries per consumer.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTTL applies when a Manager is built with a zero TTL. Claims never
// live forever.
const DefaultTTL = 72 * time.Hour

var (
	ErrNoConsumer = errors.New("consumer name is required")
	ErrNoEventID  = errors.New("event id is required")
)

// Store is the Redis surface a Manager needs. *redis.Client satisfies it.
type Store interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager records which envelope ids each consumer has handled. A claim is
// a SETNX on pc:idempotency:evt:<consumer>:<event_id>.
type Manager struct {
	store Store
	ttl   time.Duration
}

func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case ttl == 0:
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It reports true when an
// earlier delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Delete gives up a claim so the next delivery is handled again.
func (m *Manager) Delete(ctx context.Context, consumer, eventID string) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer, eventID string) (string, error) {
	consumer, eventID = strings.TrimSpace(consumer), strings.TrimSpace(eventID)
	if consumer == "" {
		return "", ErrNoConsumer
	}
	if eventID == "" {
		return "", ErrNoEventID
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID), nil
}
