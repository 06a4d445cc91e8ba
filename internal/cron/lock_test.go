package cron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/pkg/instance"
)

type memoryRedis struct {
	data map[string]string
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.data[key] != expected {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func TestRedisLockIsExclusiveAndOwnerScoped(t *testing.T) {
	ctx := context.Background()
	store := &memoryRedis{data: map[string]string{}}
	first, err := NewRedisLock(store, "pc:lock:cron", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "pc:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, first.Held())
	require.False(t, second.Held())

	_, err = first.Acquire(ctx)
	require.ErrorContains(t, err, "already held")

	// A non-owner release leaves the holder's lock alone.
	require.NoError(t, second.Release(ctx))
	require.Contains(t, store.data, "pc:lock:cron")

	require.NoError(t, first.Release(ctx))
	require.NotContains(t, store.data, "pc:lock:cron")

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(store.data["pc:lock:cron"], instance.GetID()+":"))
}

func TestReleaseAfterLeaseTakenOverKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	store := &memoryRedis{data: map[string]string{}}
	lock, err := NewRedisLock(store, "pc:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	store.data["pc:lock:cron"] = "other-host:lease"
	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "other-host:lease", store.data["pc:lock:cron"])
	require.False(t, lock.Held())
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "key", 0)
	require.Error(t, err)
	_, err = NewRedisLock(&memoryRedis{}, "", 0)
	require.Error(t, err)
}
