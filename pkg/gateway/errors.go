package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as safe to retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth another attempt: explicitly marked
// errors, network timeouts and per-attempt deadlines.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// TransientStatus reports whether an HTTP status should be retried.
func TransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// ProviderError wraps a transport or auth failure as a dependency error.
func ProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s failed", provider, op))
}

// SignatureError marks a webhook that failed verification.
func SignatureError(provider string, err error) error {
	if err == nil {
		err = errors.New("signature mismatch")
	}
	return pkgerrors.Wrap(pkgerrors.CodeSignature, err, fmt.Sprintf("%s webhook signature invalid", provider))
}

func unwrapTransient(err error) error {
	var t *transientError
	if errors.As(err, &t) {
		return t.err
	}
	return err
}
