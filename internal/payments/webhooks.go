package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
)

// Webhook delivery results reported back to the provider with a 200.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookRejected  = "rejected"
)

// WebhookInput is one raw provider delivery.
type WebhookInput struct {
	Provider string
	Payload  []byte
	Headers  http.Header
	URL      string
}

// WebhookResult is acknowledged to the provider.
type WebhookResult struct {
	Status  string `json:"status"`
	EventID string `json:"eventId,omitempty"`
	Event   string `json:"event,omitempty"`
}

// HandleWebhook verifies a delivery, maps it to a canonical event and emits
// it. Errors returned are either signature failures or retryable; business
// rejections are acknowledged so the provider stops redelivering.
func (s *Service) HandleWebhook(ctx context.Context, in WebhookInput) (*WebhookResult, error) {
	adapter, err := s.plugins.Resolve(ctx, in.Provider)
	if err != nil {
		return nil, err
	}
	provider := adapter.Provider()
	ctx = s.withProvider(ctx, provider)

	verified, err := adapter.VerifyWebhookSignature(ctx, gateway.WebhookRequest{
		Payload: in.Payload,
		Headers: in.Headers,
		URL:     in.URL,
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = gateway.SignatureError(provider, err)
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeSignature) {
			s.metrics.IncDelivery(provider, "invalid_signature")
		} else {
			s.metrics.IncDelivery(provider, "invalid_payload")
		}
		s.warn(ctx, "webhook verification failed", map[string]any{"error": err.Error()})
		return nil, err
	}
	if verified == nil {
		s.metrics.IncDelivery(provider, "invalid_payload")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "empty webhook event")
	}
	s.event(ctx, "webhook.received", "webhook received", map[string]any{
		"event_id": verified.ID, "event_type": string(verified.Type),
	})

	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, provider, verified.ID)
		switch {
		case err != nil:
			s.warn(ctx, "webhook guard unavailable", map[string]any{"error": err.Error(), "event_id": verified.ID})
		case seen:
			return s.ack(ctx, provider, verified, "", WebhookDuplicate), nil
		}
	}

	status, name, err := s.dispatchWebhook(ctx, provider, verified)
	if err != nil {
		s.releaseGuard(ctx, provider, verified.ID)
		if retryable(err) {
			s.metrics.IncDelivery(provider, "error")
			s.metrics.IncEvent(name, "error")
			if s.logg != nil {
				s.logg.Error(ctx, "webhook processing failed", err)
			}
			return nil, err
		}
		s.warn(ctx, "webhook rejected", map[string]any{"event_id": verified.ID, "error": err.Error()})
		status = WebhookRejected
	}
	if status == WebhookRejected {
		// Rejections are final for this delivery but a corrected redelivery
		// must still be processed.
		s.releaseGuard(ctx, provider, verified.ID)
	}
	return s.ack(ctx, provider, verified, name, status), nil
}

func (s *Service) ack(ctx context.Context, provider string, verified *gateway.WebhookEvent, name, status string) *WebhookResult {
	s.metrics.IncDelivery(provider, status)
	if name != "" {
		s.metrics.IncEvent(name, status)
	}
	s.event(ctx, "webhook."+status, "webhook acknowledged", map[string]any{
		"event_id": verified.ID, "event": name,
	})
	return &WebhookResult{Status: status, EventID: verified.ID, Event: name}
}

func (s *Service) releaseGuard(ctx context.Context, provider, eventID string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Delete(ctx, provider, eventID); err != nil {
		s.warn(ctx, "webhook guard release failed", map[string]any{"error": err.Error(), "event_id": eventID})
	}
}

// retryable reports whether the provider should redeliver.
func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeConflict, pkgerrors.CodeStateConflict:
		return false
	}
	return true
}

// dispatchWebhook returns the delivery status and the canonical event name.
func (s *Service) dispatchWebhook(ctx context.Context, provider string, verified *gateway.WebhookEvent) (string, string, error) {
	var event events.Event
	switch verified.Type {
	case gateway.EventPaymentSucceeded:
		invoice, err := s.webhookInvoice(ctx, provider, verified)
		if err != nil {
			return "", events.NamePaymentCaptured, err
		}
		if invoice == nil {
			return WebhookRejected, events.NamePaymentCaptured, nil
		}
		if invoice.Status != enums.InvoiceStatusPending {
			return WebhookDuplicate, events.NamePaymentCaptured, nil
		}
		event = events.PaymentCaptured{
			InvoiceID:       invoice.ID,
			TransactionID:   verified.TransactionID,
			Amount:          verified.Amount,
			ProviderName:    provider,
			SubscriptionRef: verified.SubscriptionRef,
		}
	case gateway.EventPaymentFailed:
		failure, err := s.failureEvent(ctx, provider, verified)
		if err != nil {
			return "", events.NamePaymentFailed, err
		}
		event = failure
	case gateway.EventRefundCreated:
		invoice, err := s.webhookInvoice(ctx, provider, verified)
		if err != nil {
			return "", events.NamePaymentRefunded, err
		}
		if invoice == nil {
			return WebhookRejected, events.NamePaymentRefunded, nil
		}
		if invoice.Status == enums.InvoiceStatusRefunded {
			return WebhookDuplicate, events.NamePaymentRefunded, nil
		}
		event = events.PaymentRefunded{
			InvoiceID:    invoice.ID,
			RefundID:     verified.RefundID,
			Amount:       verified.Amount,
			ProviderName: provider,
		}
	case gateway.EventSubscriptionCancelled:
		sub, err := s.webhookSubscription(ctx, provider, verified)
		if err != nil {
			return "", events.NameSubscriptionCancelled, err
		}
		if sub == nil {
			return WebhookRejected, events.NameSubscriptionCancelled, nil
		}
		reason := strings.TrimSpace(verified.Reason)
		if reason == "" {
			reason = "provider_cancelled"
		}
		event = events.SubscriptionCancelled{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			Reason:         reason,
			ProviderName:   provider,
		}
	default:
		return WebhookIgnored, "", nil
	}

	err := s.emitter.Emit(ctx, event)
	if errors.Is(err, events.ErrAlreadyProcessed) {
		return WebhookDuplicate, event.Name(), nil
	}
	if err != nil {
		return "", event.Name(), err
	}
	return WebhookProcessed, event.Name(), nil
}

// webhookInvoice finds the invoice a provider event refers to: the invoice id
// we put in metadata, then the session or subscription reference, then the
// capture id.
func (s *Service) webhookInvoice(ctx context.Context, provider string, verified *gateway.WebhookEvent) (*models.Invoice, error) {
	if id, err := uuid.Parse(strings.TrimSpace(verified.InvoiceID)); err == nil {
		invoice, err := s.invoices.FindByID(ctx, id)
		if err != nil || invoice != nil {
			return invoice, err
		}
	}
	for _, ref := range []string{verified.ExternalRef, verified.SubscriptionRef} {
		if ref == "" {
			continue
		}
		invoice, err := s.invoices.FindByExternalRef(ctx, provider, ref)
		if err != nil || invoice != nil {
			return invoice, err
		}
	}
	if verified.TransactionID == "" {
		return nil, nil
	}
	return s.invoices.FindByCaptureRef(ctx, provider, verified.TransactionID)
}

// webhookSubscription finds the local subscription by its bound provider id,
// falling back to the invoice that created it.
func (s *Service) webhookSubscription(ctx context.Context, provider string, verified *gateway.WebhookEvent) (*models.Subscription, error) {
	sub, err := s.subscriptions.FindByExternalID(ctx, provider, verified.SubscriptionRef)
	if err != nil || sub != nil {
		return sub, err
	}
	invoice, err := s.webhookInvoice(ctx, provider, verified)
	if err != nil || invoice == nil {
		return nil, err
	}
	for _, item := range invoice.LineItems {
		if item.SubscriptionID == nil {
			continue
		}
		return s.subscriptions.FindByID(ctx, *item.SubscriptionID)
	}
	return nil, nil
}

func (s *Service) failureEvent(ctx context.Context, provider string, verified *gateway.WebhookEvent) (events.PaymentFailed, error) {
	failure := events.PaymentFailed{
		EventID:      verified.ID,
		ErrorCode:    verified.ErrorCode,
		ErrorMessage: verified.ErrorMessage,
		ProviderName: provider,
	}
	invoice, err := s.webhookInvoice(ctx, provider, verified)
	if err != nil {
		return failure, err
	}
	if invoice != nil {
		userID := invoice.UserID
		failure.InvoiceID = &invoice.ID
		failure.UserID = &userID
	}
	sub, err := s.subscriptions.FindByExternalID(ctx, provider, verified.SubscriptionRef)
	if err != nil {
		return failure, err
	}
	if sub != nil {
		userID := sub.UserID
		failure.SubscriptionID = &sub.ID
		failure.UserID = &userID
	}
	return failure, nil
}
