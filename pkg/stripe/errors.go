package stripe

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
)

// classify splits Stripe failures into expected outcomes and errors. A non-nil
// outcome means the call reached Stripe and was refused for a business reason.
func classify(op string, err error) (*gateway.Outcome, error) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return nil, gateway.Transient(err)
	}

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		outcome := gateway.Declined(string(stripeErr.Code), stripeErr.Msg)
		if stripeErr.DeclineCode != "" {
			outcome.ErrorCode = string(stripeErr.DeclineCode)
		}
		return &outcome, nil
	case stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound:
		outcome := gateway.Declined("not_found", stripeErr.Msg)
		return &outcome, nil
	case stripeErr.Type == stripe.ErrorTypeIdempotency:
		return nil, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "stripe rejected idempotency key reuse")
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden:
		return nil, gateway.ProviderError(Provider, op, err)
	case gateway.TransientStatus(stripeErr.HTTPStatusCode):
		return nil, gateway.Transient(err)
	case stripeErr.HTTPStatusCode == http.StatusBadRequest:
		outcome := gateway.Declined(string(stripeErr.Code), stripeErr.Msg)
		if outcome.ErrorCode == "" {
			outcome.ErrorCode = "invalid_request"
		}
		return &outcome, nil
	default:
		return nil, gateway.ProviderError(Provider, op, err)
	}
}
