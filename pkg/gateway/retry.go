package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = 100 * time.Millisecond
	defaultBackoffCap  = 2 * time.Second
	defaultCallTimeout = 5 * time.Second
)

// RetryPolicy bounds outbound provider calls.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
	Cap        time.Duration
	Timeout    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Base <= 0 {
		p.Base = defaultBackoffBase
	}
	if p.Cap <= 0 {
		p.Cap = defaultBackoffCap
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultCallTimeout
	}
	return p
}

// Retrier runs provider calls with a per-attempt timeout and capped
// exponential backoff.
type Retrier struct {
	policy RetryPolicy
}

// NewRetrier builds a retrier; zero fields take defaults.
func NewRetrier(policy RetryPolicy) *Retrier {
	return &Retrier{policy: policy.withDefaults()}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Call describes one outbound operation.
type Call struct {
	Provider  string
	Operation string
	// Safe is true for reads and for writes carrying an idempotency key. Unsafe
	// calls run exactly once.
	Safe bool
}

// Do runs fn until it succeeds, fails with a non-transient error, or the retry
// budget is spent. Errors that are not already typed come back as dependency
// errors.
func (r *Retrier) Do(ctx context.Context, call Call, fn func(ctx context.Context) error) error {
	var backoff retry.Backoff = retry.NewExponential(r.policy.Base)
	backoff = retry.WithCappedDuration(r.policy.Cap, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	maxRetries := r.policy.MaxRetries
	if !call.Safe {
		maxRetries = 0
	}
	backoff = retry.WithMaxRetries(maxRetries, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && (IsTransient(err) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded)) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	err = unwrapTransient(err)
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s timed out", call.Provider, call.Operation))
	}
	return ProviderError(call.Provider, call.Operation, err)
}
