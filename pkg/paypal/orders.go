package paypal

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func toAmount(a money.Amount) amount {
	return amount{CurrencyCode: money.NormalizeCurrency(a.Currency), Value: money.FormatDecimal(a)}
}

func (a amount) toMoney() *money.Amount {
	if a.CurrencyCode == "" || a.Value == "" {
		return nil
	}
	parsed, err := money.ParseDecimal(a.Value, a.CurrencyCode)
	if err != nil {
		return nil
	}
	return &parsed
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func approvalURL(links []link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

type purchaseUnitRequest struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      amount `json:"amount"`
}

type applicationContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

type createOrderRequest struct {
	Intent             string                `json:"intent"`
	PurchaseUnits      []purchaseUnitRequest `json:"purchase_units"`
	ApplicationContext applicationContext    `json:"application_context"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount amount `json:"amount"`
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Amount      amount `json:"amount"`
		Payments    struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *order) firstCapture() *capture {
	for i := range o.PurchaseUnits {
		if caps := o.PurchaseUnits[i].Payments.Captures; len(caps) > 0 {
			return &caps[0]
		}
	}
	return nil
}

func (o *order) amount() *money.Amount {
	if c := o.firstCapture(); c != nil {
		if m := c.Amount.toMoney(); m != nil {
			return m
		}
	}
	if len(o.PurchaseUnits) > 0 {
		return o.PurchaseUnits[0].Amount.toMoney()
	}
	return nil
}

func (o *order) status() gateway.PaymentStatus {
	switch o.Status {
	case "COMPLETED":
		if c := o.firstCapture(); c != nil {
			return captureStatus(c.Status)
		}
		return gateway.StatusPaid
	case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		return gateway.StatusPending
	case "VOIDED":
		return gateway.StatusCancelled
	default:
		return gateway.StatusUnknown
	}
}

func captureStatus(status string) gateway.PaymentStatus {
	switch status {
	case "COMPLETED":
		return gateway.StatusPaid
	case "PENDING":
		return gateway.StatusPending
	case "DECLINED", "FAILED":
		return gateway.StatusFailed
	case "REFUNDED", "PARTIALLY_REFUNDED":
		return gateway.StatusRefunded
	default:
		return gateway.StatusUnknown
	}
}

// CreatePaymentIntent creates a CAPTURE-intent order and returns the buyer
// approval link.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, req gateway.PaymentIntentRequest) (gateway.PaymentIntentResult, error) {
	if _, err := money.ToMinorUnits(req.Amount); err != nil {
		return gateway.PaymentIntentResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	invoiceID := req.Metadata[gateway.MetadataInvoiceID]
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnitRequest{{
			ReferenceID: invoiceID,
			CustomID:    invoiceID,
			Description: req.Description,
			Amount:      toAmount(req.Amount),
		}},
		ApplicationContext: applicationContext{
			ReturnURL:  req.ReturnURL,
			CancelURL:  req.CancelURL,
			UserAction: "PAY_NOW",
		},
	}

	var created order
	declined, err := a.call(ctx, "create_order", req.IdempotencyKey != "", func(ctx context.Context) error {
		return a.send(ctx, http.MethodPost, "/v2/checkout/orders", body, req.IdempotencyKey, &created)
	})
	if err != nil {
		return gateway.PaymentIntentResult{}, err
	}
	if declined != nil {
		return gateway.PaymentIntentResult{Outcome: *declined}, nil
	}
	return gateway.PaymentIntentResult{Outcome: gateway.Succeeded(), SessionID: created.ID, RedirectURL: approvalURL(created.Links)}, nil
}

// CaptureOrder captures an approved order. The request id is derived from the
// order so a retried capture collapses at PayPal.
func (a *Adapter) CaptureOrder(ctx context.Context, orderID string) (gateway.CaptureResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return gateway.CaptureResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	requestID := gateway.IdempotencyKey(Provider, "capture", orderID)

	var captured order
	declined, err := a.call(ctx, "capture_order", true, func(ctx context.Context) error {
		return a.send(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{}, requestID, &captured)
	})
	if err != nil {
		return gateway.CaptureResult{}, err
	}
	if declined != nil {
		if declined.ErrorCode == "order_already_captured" {
			status, statusErr := a.GetStatus(ctx, orderID)
			if statusErr != nil {
				return gateway.CaptureResult{}, statusErr
			}
			return gateway.CaptureResult{Outcome: status.Outcome, CaptureID: status.TransactionID, Status: status.Status, Amount: status.Amount}, nil
		}
		return gateway.CaptureResult{Outcome: *declined, Status: gateway.StatusFailed}, nil
	}

	result := gateway.CaptureResult{Status: captured.status(), Amount: captured.amount()}
	if c := captured.firstCapture(); c != nil {
		result.CaptureID = c.ID
	}
	switch result.Status {
	case gateway.StatusPaid:
		result.Outcome = gateway.Succeeded()
	case gateway.StatusPending:
		// Held captures settle later via PAYMENT.CAPTURE.COMPLETED.
		result.Outcome = gateway.Succeeded()
	default:
		result.Outcome = gateway.Declined("capture_declined", "paypal declined the capture")
	}
	return result, nil
}

// GetStatus reads an order.
func (a *Adapter) GetStatus(ctx context.Context, ref string) (gateway.StatusResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return gateway.StatusResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	var current order
	declined, err := a.call(ctx, "get_order", true, func(ctx context.Context) error {
		return a.send(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(ref), nil, "", &current)
	})
	if err != nil {
		return gateway.StatusResult{}, err
	}
	if declined != nil {
		return gateway.StatusResult{Outcome: *declined, Status: gateway.StatusUnknown}, nil
	}
	result := gateway.StatusResult{Outcome: gateway.Succeeded(), Status: current.status(), Amount: current.amount()}
	if c := current.firstCapture(); c != nil {
		result.TransactionID = c.ID
	}
	return result, nil
}

type refundRequest struct {
	Amount *amount `json:"amount,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund refunds a capture. A nil amount refunds the full capture.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	captureID := strings.TrimSpace(req.CaptureRef)
	if captureID == "" {
		return gateway.RefundResult{}, pkgerrors.New(pkgerrors.CodeValidation, "capture reference is required")
	}
	body := refundRequest{}
	if req.Amount != nil {
		if _, err := money.ToMinorUnits(*req.Amount); err != nil {
			return gateway.RefundResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
		}
		amt := toAmount(*req.Amount)
		body.Amount = &amt
	}

	var refunded refundResponse
	declined, err := a.call(ctx, "refund", req.IdempotencyKey != "", func(ctx context.Context) error {
		return a.send(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund", body, req.IdempotencyKey, &refunded)
	})
	if err != nil {
		return gateway.RefundResult{}, err
	}
	if declined != nil {
		return gateway.RefundResult{Outcome: *declined}, nil
	}
	status := gateway.StatusPending
	switch refunded.Status {
	case "COMPLETED":
		status = gateway.StatusRefunded
	case "CANCELLED", "FAILED":
		return gateway.RefundResult{Outcome: gateway.Declined("refund_failed", "paypal refund "+strings.ToLower(refunded.Status)), RefundID: refunded.ID, Status: gateway.StatusFailed}, nil
	}
	return gateway.RefundResult{Outcome: gateway.Succeeded(), RefundID: refunded.ID, Status: status}, nil
}
