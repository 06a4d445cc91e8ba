package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/events/handlers"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// CreateOrderInput starts a provider checkout for a pending invoice.
type CreateOrderInput struct {
	Provider  string
	UserID    uuid.UUID
	InvoiceID uuid.UUID
	// SourceID is a tokenized card for providers that charge sources directly.
	SourceID string
}

// CreateOrderResult carries the provider reference and where to send the user.
type CreateOrderResult struct {
	Mode           enums.PaymentMode `json:"mode"`
	SessionID      string            `json:"sessionId,omitempty"`
	SubscriptionID string            `json:"subscriptionId,omitempty"`
	RedirectURL    string            `json:"redirectUrl,omitempty"`
}

// CaptureInput captures an approved provider order.
type CaptureInput struct {
	Provider string
	UserID   uuid.UUID
	OrderID  string
}

// CaptureResultView is the capture route response.
type CaptureResultView struct {
	InvoiceID uuid.UUID             `json:"invoiceId"`
	Status    gateway.PaymentStatus `json:"status"`
	CaptureID string                `json:"captureId,omitempty"`
}

// RefundInput refunds a paid invoice in full.
type RefundInput struct {
	Provider  string
	UserID    uuid.UUID
	InvoiceID uuid.UUID
}

// RefundView is the refund route response.
type RefundView struct {
	InvoiceID     uuid.UUID             `json:"invoiceId"`
	RefundID      string                `json:"refundId"`
	Status        gateway.PaymentStatus `json:"status"`
	TokensDebited int64                 `json:"tokensDebited"`
}

// CreateOrder asks the provider for a checkout session or subscription and
// attaches its reference to the invoice.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	adapter, err := s.plugins.Resolve(ctx, in.Provider)
	if err != nil {
		return nil, err
	}
	provider := adapter.Provider()
	invoice, err := s.pendingInvoice(ctx, in.InvoiceID, in.UserID)
	if err != nil {
		return nil, err
	}
	planByID, err := s.loadPlans(ctx, invoice)
	if err != nil {
		return nil, err
	}
	returnURL, cancelURL := s.returnURLs(invoice.ID)
	metadata := map[string]string{
		gateway.MetadataInvoiceID: invoice.ID.String(),
		gateway.MetadataUserID:    invoice.UserID.String(),
	}

	if DetermineMode(invoice, planByID) == enums.PaymentModePayment {
		res, err := adapter.CreatePaymentIntent(ctx, gateway.PaymentIntentRequest{
			Amount:         invoice.Total(),
			Description:    invoice.Number,
			Metadata:       metadata,
			IdempotencyKey: gateway.IdempotencyKey(provider, "create", invoice.ID.String()),
			ReturnURL:      returnURL,
			CancelURL:      cancelURL,
			SourceID:       in.SourceID,
		})
		if err != nil {
			return nil, err
		}
		if !res.OK {
			return nil, declined(res.ErrorCode)
		}
		if err := s.invoices.AttachExternalRef(ctx, invoice.ID, provider, res.SessionID); err != nil {
			return nil, err
		}
		s.event(ctx, "payment.order_created", "payment session created", map[string]any{
			"invoice_id": invoice.ID.String(), "provider": provider, "session_id": res.SessionID,
		})
		return &CreateOrderResult{Mode: enums.PaymentModePayment, SessionID: res.SessionID, RedirectURL: res.RedirectURL}, nil
	}

	item, sub, plan, err := s.recurringItem(ctx, invoice, planByID)
	if err != nil {
		return nil, err
	}
	metadata[gateway.MetadataSubscriptionID] = sub.ID.String()
	planRef, err := s.providerPlan(ctx, adapter, plan)
	if err != nil {
		return nil, err
	}
	res, err := adapter.CreateSubscription(ctx, gateway.SubscriptionRequest{
		PlanRef:        planRef,
		Metadata:       metadata,
		ReturnURL:      returnURL,
		CancelURL:      cancelURL,
		IdempotencyKey: gateway.IdempotencyKey(provider, "subscribe", invoice.ID.String(), item.ID.String()),
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, declined(res.ErrorCode)
	}
	if err := s.invoices.AttachExternalRef(ctx, invoice.ID, provider, res.SubscriptionRef); err != nil {
		return nil, err
	}
	s.event(ctx, "payment.subscription_created", "provider subscription created", map[string]any{
		"invoice_id": invoice.ID.String(), "provider": provider, "subscription_id": sub.ID.String(),
	})
	return &CreateOrderResult{Mode: enums.PaymentModeSubscription, SubscriptionID: res.SubscriptionRef, RedirectURL: res.RedirectURL}, nil
}

func (s *Service) pendingInvoice(ctx context.Context, invoiceID, userID uuid.UUID) (*models.Invoice, error) {
	found, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	invoice, err := ownedInvoice(found, userID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != enums.InvoiceStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "invoice is not pending")
	}
	return invoice, nil
}

// recurringItem finds the subscription line item and checks that the user
// does not already hold the plan.
func (s *Service) recurringItem(ctx context.Context, invoice *models.Invoice, planByID map[uuid.UUID]models.Plan) (models.InvoiceLineItem, *models.Subscription, models.Plan, error) {
	for _, item := range invoice.LineItems {
		if !isRecurring(item, planByID) || item.SubscriptionID == nil {
			continue
		}
		sub, err := s.subscriptions.FindByID(ctx, *item.SubscriptionID)
		if err != nil {
			return item, nil, models.Plan{}, err
		}
		if sub == nil || sub.UserID != invoice.UserID {
			return item, nil, models.Plan{}, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if sub.Status != enums.SubscriptionStatusPending {
			return item, nil, models.Plan{}, pkgerrors.New(pkgerrors.CodeConflict, "subscription is not pending")
		}
		planID := sub.PlanID
		if item.PlanID != nil {
			planID = *item.PlanID
		}
		plan, ok := planByID[planID]
		if !ok {
			return item, nil, models.Plan{}, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		active, err := s.subscriptions.FindActive(ctx, invoice.UserID, plan.ID)
		if err != nil {
			return item, nil, models.Plan{}, err
		}
		if active != nil {
			return item, nil, models.Plan{}, pkgerrors.New(pkgerrors.CodeConflict, "an active subscription to this plan already exists")
		}
		return item, sub, plan, nil
	}
	return models.InvoiceLineItem{}, nil, models.Plan{}, pkgerrors.New(pkgerrors.CodeValidation, "recurring line item has no subscription")
}

// providerPlan returns the provider's plan id, creating it on first use.
func (s *Service) providerPlan(ctx context.Context, adapter gateway.Adapter, plan models.Plan) (string, error) {
	provider := adapter.Provider()
	ref, err := s.plans.FindProviderRef(ctx, plan.ID, provider)
	if err != nil {
		return "", err
	}
	if ref != nil {
		return ref.ExternalRef, nil
	}
	res, err := adapter.CreateSubscriptionPlan(ctx, gateway.PlanRequest{
		Name:           plan.Name,
		Amount:         plan.PriceAmount(),
		Interval:       plan.BillingPeriod,
		IdempotencyKey: gateway.IdempotencyKey(provider, "plan", plan.ID.String()),
	})
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", declined(res.ErrorCode)
	}
	if err := s.plans.SaveProviderRef(ctx, &models.PlanProviderRef{PlanID: plan.ID, Provider: provider, ExternalRef: res.PlanRef}); err != nil {
		return "", err
	}
	// A concurrent request may have stored its ref first.
	stored, err := s.plans.FindProviderRef(ctx, plan.ID, provider)
	if err != nil {
		return "", err
	}
	if stored != nil {
		return stored.ExternalRef, nil
	}
	return res.PlanRef, nil
}

// CaptureOrder captures an approved order and emits the outcome. Capturing an
// invoice that already left PENDING returns its current state.
func (s *Service) CaptureOrder(ctx context.Context, in CaptureInput) (*CaptureResultView, error) {
	adapter, err := s.plugins.Resolve(ctx, in.Provider)
	if err != nil {
		return nil, err
	}
	provider := adapter.Provider()
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	found, err := s.invoices.FindByExternalRef(ctx, provider, orderID)
	if err != nil {
		return nil, err
	}
	invoice, err := ownedInvoice(found, in.UserID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != enums.InvoiceStatusPending {
		return settledView(invoice), nil
	}

	res, err := adapter.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		userID := invoice.UserID
		failure := events.PaymentFailed{
			EventID:      uuid.NewString(),
			InvoiceID:    &invoice.ID,
			UserID:       &userID,
			ErrorCode:    res.ErrorCode,
			ErrorMessage: res.ErrorMessage,
			ProviderName: provider,
		}
		if err := s.emitter.Emit(ctx, failure); err != nil {
			return nil, err
		}
		return nil, declined(res.ErrorCode)
	}
	view := &CaptureResultView{InvoiceID: invoice.ID, Status: res.Status, CaptureID: res.CaptureID}
	if res.Status != gateway.StatusPaid {
		return view, nil
	}
	captured := events.PaymentCaptured{
		InvoiceID:     invoice.ID,
		TransactionID: res.CaptureID,
		Amount:        res.Amount,
		ProviderName:  provider,
	}
	planByID, err := s.loadPlans(ctx, invoice)
	if err != nil {
		return nil, err
	}
	// Subscription invoices carry the provider subscription as their order.
	if DetermineMode(invoice, planByID) == enums.PaymentModeSubscription {
		captured.SubscriptionRef = orderID
	}
	err = s.emitter.Emit(ctx, captured)
	if err != nil && !errors.Is(err, events.ErrAlreadyProcessed) {
		return nil, err
	}
	return view, nil
}

func settledView(invoice *models.Invoice) *CaptureResultView {
	view := &CaptureResultView{InvoiceID: invoice.ID}
	switch invoice.Status {
	case enums.InvoiceStatusPaid:
		view.Status = gateway.StatusPaid
	case enums.InvoiceStatusRefunded:
		view.Status = gateway.StatusRefunded
	case enums.InvoiceStatusCancelled:
		view.Status = gateway.StatusCancelled
	default:
		view.Status = gateway.StatusUnknown
	}
	if invoice.CaptureRef != nil {
		view.CaptureID = *invoice.CaptureRef
	}
	return view
}

// SessionStatus reports the provider-side status of one of the caller's
// sessions.
func (s *Service) SessionStatus(ctx context.Context, provider string, userID uuid.UUID, ref string) (gateway.PaymentStatus, error) {
	adapter, err := s.plugins.Resolve(ctx, provider)
	if err != nil {
		return "", err
	}
	ref = strings.TrimSpace(ref)
	found, err := s.invoices.FindByExternalRef(ctx, adapter.Provider(), ref)
	if err != nil {
		return "", err
	}
	if _, err := ownedInvoice(found, userID); err != nil {
		return "", err
	}
	res, err := adapter.GetStatus(ctx, ref)
	if err != nil {
		return "", err
	}
	if !res.OK {
		return gateway.StatusUnknown, nil
	}
	return res.Status, nil
}

// Refund refunds a paid invoice in full. Tokens the invoice granted must
// still be on the balance; the provider is not called otherwise.
func (s *Service) Refund(ctx context.Context, in RefundInput) (*RefundView, error) {
	adapter, err := s.plugins.Resolve(ctx, in.Provider)
	if err != nil {
		return nil, err
	}
	provider := adapter.Provider()
	found, err := s.invoices.FindByID(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	invoice, err := ownedInvoice(found, in.UserID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != enums.InvoiceStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "only paid invoices can be refunded")
	}
	if invoice.Provider == nil || *invoice.Provider != provider {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "invoice was paid through another provider")
	}
	if invoice.CaptureRef == nil || *invoice.CaptureRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "invoice has no capture to refund")
	}

	debit, err := handlers.TokensToReverse(ctx, nil, s.handlerDeps(), invoice)
	if err != nil {
		return nil, err
	}
	if debit > 0 {
		balance, err := s.ledger.Balance(ctx, invoice.UserID)
		if err != nil {
			return nil, err
		}
		if balance < debit {
			return nil, handlers.InsufficientForRefund(balance, debit)
		}
	}

	total := invoice.Total()
	res, err := adapter.Refund(ctx, gateway.RefundRequest{
		CaptureRef:     *invoice.CaptureRef,
		Amount:         &total,
		IdempotencyKey: gateway.IdempotencyKey(provider, "refund", invoice.ID.String()),
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, declined(res.ErrorCode)
	}
	err = s.emitter.Emit(ctx, events.PaymentRefunded{
		InvoiceID:    invoice.ID,
		RefundID:     res.RefundID,
		Amount:       &total,
		ProviderName: provider,
	})
	if err != nil && !errors.Is(err, events.ErrAlreadyProcessed) {
		// The provider already refunded; the handler refused the local reversal.
		s.warn(ctx, "provider refund succeeded but local reversal failed", map[string]any{
			"invoice_id": invoice.ID.String(), "refund_id": res.RefundID,
		})
		return nil, err
	}
	status := res.Status
	if status == "" {
		status = gateway.StatusRefunded
	}
	return &RefundView{InvoiceID: invoice.ID, RefundID: res.RefundID, Status: status, TokensDebited: debit}, nil
}

// TokenBalance returns the caller's token balance.
func (s *Service) TokenBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

// TokenTransactions returns one page of the caller's ledger entries, newest first.
func (s *Service) TokenTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (ledger.TransactionPage, error) {
	return s.ledger.Transactions(ctx, userID, params)
}
