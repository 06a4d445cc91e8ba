package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
)

// Transmission headers PayPal signs each delivery with.
const (
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
)

const verificationSuccess = "SUCCESS"

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type captureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CustomID          string `json:"custom_id"`
	Amount            amount `json:"amount"`
	Links             []link `json:"links"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

type saleResource struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	CustomID           string `json:"custom"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

type subscriptionResource struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CustomID         string `json:"custom_id"`
	StatusChangeNote string `json:"status_change_note"`
	BillingInfo      struct {
		LastFailedPayment struct {
			ReasonCode string `json:"reason_code"`
		} `json:"last_failed_payment"`
	} `json:"billing_info"`
}

// VerifyWebhookSignature asks PayPal to verify the transmission, then maps the
// event. Verification needs a round trip, so transport failures surface as
// dependency errors and the delivery is retried by PayPal.
func (a *Adapter) VerifyWebhookSignature(ctx context.Context, req gateway.WebhookRequest) (*gateway.WebhookEvent, error) {
	body := verifyRequest{
		AuthAlgo:         strings.TrimSpace(req.Headers.Get(HeaderAuthAlgo)),
		CertURL:          strings.TrimSpace(req.Headers.Get(HeaderCertURL)),
		TransmissionID:   strings.TrimSpace(req.Headers.Get(HeaderTransmissionID)),
		TransmissionSig:  strings.TrimSpace(req.Headers.Get(HeaderTransmissionSig)),
		TransmissionTime: strings.TrimSpace(req.Headers.Get(HeaderTransmissionTime)),
		WebhookID:        a.webhookID,
	}
	if body.AuthAlgo == "" || body.CertURL == "" || body.TransmissionID == "" || body.TransmissionSig == "" || body.TransmissionTime == "" {
		return nil, gateway.SignatureError(Provider, errors.New("paypal transmission headers missing"))
	}
	if !json.Valid(req.Payload) {
		return nil, gateway.SignatureError(Provider, errors.New("paypal webhook body is not json"))
	}
	body.WebhookEvent = json.RawMessage(req.Payload)

	var verified verifyResponse
	declined, err := a.call(ctx, "verify_webhook", true, func(ctx context.Context) error {
		return a.send(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "", &verified)
	})
	if err != nil {
		return nil, err
	}
	if declined != nil {
		return nil, gateway.SignatureError(Provider, errors.New(declined.ErrorMessage))
	}
	if verified.VerificationStatus != verificationSuccess {
		return nil, gateway.SignatureError(Provider, errors.New("verification status "+verified.VerificationStatus))
	}

	var event webhookEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paypal event")
	}
	return mapEvent(event, req.Payload)
}

func mapEvent(event webhookEvent, raw []byte) (*gateway.WebhookEvent, error) {
	out := &gateway.WebhookEvent{ID: event.ID, Type: gateway.EventUnknown, Provider: Provider, Raw: json.RawMessage(raw)}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.REFUNDED":
		var res captureResource
		if err := decodeResource(event.Resource, &res); err != nil {
			return nil, err
		}
		out.InvoiceID = res.CustomID
		out.Amount = res.Amount.toMoney()
		switch event.EventType {
		case "PAYMENT.CAPTURE.COMPLETED":
			out.Type = gateway.EventPaymentSucceeded
			out.ExternalRef = res.SupplementaryData.RelatedIDs.OrderID
			out.TransactionID = res.ID
		case "PAYMENT.CAPTURE.DENIED":
			out.Type = gateway.EventPaymentFailed
			out.ExternalRef = res.SupplementaryData.RelatedIDs.OrderID
			out.TransactionID = res.ID
			out.ErrorCode = "capture_denied"
			out.ErrorMessage = res.StatusDetails.Reason
		default:
			// The resource is the refund; its "up" link points at the capture.
			out.Type = gateway.EventRefundCreated
			out.RefundID = res.ID
			out.TransactionID = captureIDFromLinks(res.Links)
		}
	case "PAYMENT.SALE.COMPLETED":
		var res saleResource
		if err := decodeResource(event.Resource, &res); err != nil {
			return nil, err
		}
		out.Type = gateway.EventPaymentSucceeded
		out.ExternalRef = res.BillingAgreementID
		out.SubscriptionRef = res.BillingAgreementID
		out.TransactionID = res.ID
		out.InvoiceID = res.CustomID
		out.Amount = amount{CurrencyCode: res.Amount.Currency, Value: res.Amount.Total}.toMoney()
	case "BILLING.SUBSCRIPTION.CREATED", "BILLING.SUBSCRIPTION.ACTIVATED",
		"BILLING.SUBSCRIPTION.UPDATED", "BILLING.SUBSCRIPTION.CANCELLED",
		"BILLING.SUBSCRIPTION.EXPIRED", "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		var res subscriptionResource
		if err := decodeResource(event.Resource, &res); err != nil {
			return nil, err
		}
		out.SubscriptionRef = res.ID
		out.ExternalRef = res.ID
		out.InvoiceID = res.CustomID
		switch event.EventType {
		case "BILLING.SUBSCRIPTION.CREATED", "BILLING.SUBSCRIPTION.ACTIVATED":
			out.Type = gateway.EventSubscriptionCreated
		case "BILLING.SUBSCRIPTION.UPDATED":
			out.Type = gateway.EventSubscriptionUpdated
		case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
			out.Type = gateway.EventSubscriptionCancelled
			out.Reason = res.StatusChangeNote
			if out.Reason == "" {
				out.Reason = strings.ToLower(res.Status)
			}
		case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
			out.Type = gateway.EventPaymentFailed
			out.ErrorCode = strings.ToLower(res.BillingInfo.LastFailedPayment.ReasonCode)
			if out.ErrorCode == "" {
				out.ErrorCode = "subscription_payment_failed"
			}
			out.ErrorMessage = "paypal subscription payment failed"
		}
	case "CUSTOMER.DISPUTE.CREATED":
		out.Type = gateway.EventDisputeCreated
	}
	return out, nil
}

func captureIDFromLinks(links []link) string {
	for _, l := range links {
		if l.Rel != "up" {
			continue
		}
		href := strings.TrimRight(l.Href, "/")
		if idx := strings.LastIndex(href, "/"); idx >= 0 {
			return href[idx+1:]
		}
	}
	return ""
}

func decodeResource(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "paypal event has no resource")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paypal resource")
	}
	return nil
}
