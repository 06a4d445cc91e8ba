// Package payments exposes the provider-agnostic payment routes.
package payments

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/api/middleware"
	"github.com/angelmondragon/paycore/api/responses"
	"github.com/angelmondragon/paycore/api/validators"
	"github.com/angelmondragon/paycore/internal/ledger"
	paymentsvc "github.com/angelmondragon/paycore/internal/payments"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// Service is the payment surface the controllers call.
type Service interface {
	CreateOrder(ctx context.Context, in paymentsvc.CreateOrderInput) (*paymentsvc.CreateOrderResult, error)
	CaptureOrder(ctx context.Context, in paymentsvc.CaptureInput) (*paymentsvc.CaptureResultView, error)
	SessionStatus(ctx context.Context, provider string, userID uuid.UUID, ref string) (gateway.PaymentStatus, error)
	Refund(ctx context.Context, in paymentsvc.RefundInput) (*paymentsvc.RefundView, error)
	TokenBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	TokenTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (ledger.TransactionPage, error)
}

type createOrderRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required,uuid"`
	SourceID  string `json:"sourceId,omitempty" validate:"omitempty,max=255"`
}

type captureOrderRequest struct {
	OrderID string `json:"orderId" validate:"required,max=255"`
}

type refundRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required,uuid"`
}

type sessionStatusResponse struct {
	Status gateway.PaymentStatus `json:"status"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type transactionResponse struct {
	ID          uuid.UUID `json:"id"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	ReferenceID uuid.UUID `json:"referenceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type transactionPageResponse struct {
	Items      []transactionResponse `json:"items"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

func CreateOrder(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, userID, provider, ok := prepare(w, r, svc, logg)
		if !ok {
			return
		}
		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		invoiceID, _ := uuid.Parse(body.InvoiceID)
		if logg != nil {
			ctx = logg.WithInvoiceID(ctx, invoiceID.String())
		}

		res, err := svc.CreateOrder(ctx, paymentsvc.CreateOrderInput{
			Provider:  provider,
			UserID:    userID,
			InvoiceID: invoiceID,
			SourceID:  validators.SanitizeString(body.SourceID, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, res)
	}
}

func CaptureOrder(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, userID, provider, ok := prepare(w, r, svc, logg)
		if !ok {
			return
		}
		var body captureOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		res, err := svc.CaptureOrder(ctx, paymentsvc.CaptureInput{
			Provider: provider,
			UserID:   userID,
			OrderID:  strings.TrimSpace(body.OrderID),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

func SessionStatus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, userID, provider, ok := prepare(w, r, svc, logg)
		if !ok {
			return
		}
		ref := strings.TrimSpace(chi.URLParam(r, "id"))
		if ref == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session id is required"))
			return
		}

		status, err := svc.SessionStatus(ctx, provider, userID, ref)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sessionStatusResponse{Status: status})
	}
}

func Refund(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, userID, provider, ok := prepare(w, r, svc, logg)
		if !ok {
			return
		}
		var body refundRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		invoiceID, _ := uuid.Parse(body.InvoiceID)
		if logg != nil {
			ctx = logg.WithInvoiceID(ctx, invoiceID.String())
		}

		res, err := svc.Refund(ctx, paymentsvc.RefundInput{Provider: provider, UserID: userID, InvoiceID: invoiceID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

func TokenBalance(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		balance, err := svc.TokenBalance(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{Balance: balance})
	}
}

func TokenTransactions(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := svc.TokenTransactions(ctx, userID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]transactionResponse, 0, len(page.Items))
		for _, row := range page.Items {
			out = append(out, transactionResponse{
				ID:          row.ID,
				Amount:      row.Amount,
				Type:        string(row.Type),
				ReferenceID: row.ReferenceID,
				CreatedAt:   row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, transactionPageResponse{Items: out, NextCursor: page.NextCursor})
	}
}

// prepare resolves the caller and the {provider} path segment.
func prepare(w http.ResponseWriter, r *http.Request, svc Service, logg *logger.Logger) (context.Context, uuid.UUID, string, bool) {
	ctx := r.Context()
	if svc == nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
		return ctx, uuid.Nil, "", false
	}
	userID, ok := middleware.UserUUIDFromContext(ctx)
	if !ok {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return ctx, uuid.Nil, "", false
	}
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "provider is required"))
		return ctx, uuid.Nil, "", false
	}
	if logg != nil {
		ctx = logg.WithProvider(ctx, provider)
	}
	return ctx, userID, provider, true
}
