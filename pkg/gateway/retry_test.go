package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

func fastRetrier() *Retrier {
	return NewRetrier(RetryPolicy{MaxRetries: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond, Timeout: 50 * time.Millisecond})
}

func TestRetrierRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := fastRetrier().Do(context.Background(), Call{Provider: "mock", Operation: "create", Safe: true}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("503 from provider"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := fastRetrier().Do(context.Background(), Call{Provider: "mock", Operation: "create", Safe: true}, func(context.Context) error {
		attempts++
		return errors.New("invalid request")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestRetrierRunsUnsafeCallsOnce(t *testing.T) {
	attempts := 0
	err := fastRetrier().Do(context.Background(), Call{Provider: "mock", Operation: "capture"}, func(context.Context) error {
		attempts++
		return Transient(errors.New("connection reset"))
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetrierExhaustsBudget(t *testing.T) {
	attempts := 0
	err := fastRetrier().Do(context.Background(), Call{Provider: "mock", Operation: "status", Safe: true}, func(context.Context) error {
		attempts++
		return Transient(errors.New("502"))
	})
	require.Error(t, err)
	require.Equal(t, 4, attempts)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestRetrierTimesOutSlowAttempts(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxRetries: 1, Base: time.Millisecond, Cap: time.Millisecond, Timeout: 10 * time.Millisecond})
	attempts := 0
	err := r.Do(context.Background(), Call{Provider: "mock", Operation: "status", Safe: true}, func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	require.True(t, pkgerrors.MetadataFor(pkgerrors.CodeDependency).Retryable)
}

func TestRetrierKeepsTypedErrors(t *testing.T) {
	err := fastRetrier().Do(context.Background(), Call{Provider: "mock", Operation: "create", Safe: true}, func(context.Context) error {
		return pkgerrors.New(pkgerrors.CodeValidation, "bad amount")
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTransientStatus(t *testing.T) {
	require.True(t, TransientStatus(429))
	require.True(t, TransientStatus(503))
	require.False(t, TransientStatus(400))
	require.False(t, TransientStatus(404))
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	a := IdempotencyKey("stripe", "create", "inv-1")
	b := IdempotencyKey("stripe", "create", "inv-1")
	require.Equal(t, a, b)
	require.Len(t, a, 32)
	require.NotEqual(t, a, IdempotencyKey("stripe", "create", "inv-2"))
	require.NotEqual(t, a, IdempotencyKey("paypal", "create", "inv-1"))
	require.NotEqual(t, a, IdempotencyKey("stripe", "refund", "inv-1"))
}
