package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/paycore/api/responses"
	paymentsvc "github.com/angelmondragon/paycore/internal/payments"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// MaxBodyBytes caps webhook payloads.
const MaxBodyBytes = 1 << 20

// Service handles one verified provider delivery.
type Service interface {
	HandleWebhook(ctx context.Context, in paymentsvc.WebhookInput) (*paymentsvc.WebhookResult, error)
}

// ProviderWebhook accepts POST /plugins/{provider}/webhook. Business
// rejections are acknowledged with 200 so providers stop redelivering; only
// signature failures and retryable errors surface as error statuses.
func ProviderWebhook(svc Service, publicBaseURL string, logg *logger.Logger) http.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
		if logg != nil {
			ctx = logg.WithProvider(ctx, provider)
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		res, err := svc.HandleWebhook(ctx, paymentsvc.WebhookInput{
			Provider: provider,
			Payload:  payload,
			Headers:  r.Header.Clone(),
			URL:      base + r.URL.RequestURI(),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}
