// Package mockpay is an in-memory sandbox provider. Sessions live in the
// adapter instance, amounts travel as minor units and webhooks are signed
// with a hex HMAC-SHA256 of the body.
package mockpay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/money"
)

// Provider is the plugin name.
const Provider = "mock"

// Credential keys read from the plugin config.
const (
	CredentialWebhookSecret = "webhook_secret"
	// CredentialFailMode makes every provider call decline when set to true.
	CredentialFailMode = "fail"
)

// RequiredCredentials lists the keys a mock plugin config must carry.
var RequiredCredentials = []string{CredentialWebhookSecret}

const errorCodeMock = "mock_error"

var errSecretRequired = errors.New("mock webhook secret is required")

type session struct {
	id        string
	amount    *money.Amount
	metadata  map[string]string
	status    gateway.PaymentStatus
	captureID string
}

// Adapter keeps sessions, plans and refunds in memory.
type Adapter struct {
	secret string
	fail   bool
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
	captures map[string]string
	plans    map[string]money.Amount
	byKey    map[string]string
}

var _ gateway.Adapter = (*Adapter)(nil)

// New is the gateway.Factory for the mock provider.
func New(ctx context.Context, settings gateway.Settings, opts gateway.Options) (gateway.Adapter, error) {
	secret := settings.Credential(CredentialWebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	fail, _ := strconv.ParseBool(settings.Credential(CredentialFailMode))
	if opts.Logger != nil {
		opts.Logger.Info(opts.Logger.WithProvider(ctx, Provider), "mock payment provider initialized")
	}
	return &Adapter{
		secret:   secret,
		fail:     fail,
		logger:   opts.Logger,
		sessions: map[string]*session{},
		captures: map[string]string{},
		plans:    map[string]money.Amount{},
		byKey:    map[string]string{},
	}, nil
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) CaptureMode() gateway.CaptureMode { return gateway.CaptureExplicit }

// SetFailMode toggles declining every call.
func (a *Adapter) SetFailMode(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = fail
}

// Settle forces a session into status, as if the buyer acted out of band.
func (a *Adapter) Settle(ref string, status gateway.PaymentStatus) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[ref]
	if !ok {
		return false
	}
	s.status = status
	if status == gateway.StatusPaid && s.captureID == "" {
		s.captureID = newID("cap_mock_")
		a.captures[s.captureID] = s.id
	}
	return true
}

func (a *Adapter) failing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fail
}

func mockFailure(op string) gateway.Outcome {
	return gateway.Declined(errorCodeMock, fmt.Sprintf("mock %s failed", op))
}

func notFound() gateway.Outcome {
	return gateway.Declined("not_found", "session not found")
}

// remember returns the id already bound to key, or binds id to it.
func (a *Adapter) remember(key, id string) (string, bool) {
	if key == "" {
		return id, false
	}
	if existing, ok := a.byKey[key]; ok {
		return existing, true
	}
	a.byKey[key] = id
	return id, false
}

func (a *Adapter) CreatePaymentIntent(_ context.Context, req gateway.PaymentIntentRequest) (gateway.PaymentIntentResult, error) {
	if _, err := money.ToMinorUnits(req.Amount); err != nil {
		return gateway.PaymentIntentResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	if a.failing() {
		return gateway.PaymentIntentResult{Outcome: mockFailure("payment intent")}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id, replay := a.remember(req.IdempotencyKey, newID("sess_mock_"))
	if !replay {
		amount := req.Amount
		a.sessions[id] = &session{id: id, amount: &amount, metadata: copyMetadata(req.Metadata), status: gateway.StatusPending}
	}
	return gateway.PaymentIntentResult{Outcome: gateway.Succeeded(), SessionID: id, RedirectURL: checkoutURL(id)}, nil
}

func (a *Adapter) CaptureOrder(_ context.Context, orderID string) (gateway.CaptureResult, error) {
	if strings.TrimSpace(orderID) == "" {
		return gateway.CaptureResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if a.failing() {
		return gateway.CaptureResult{Outcome: mockFailure("capture"), Status: gateway.StatusFailed}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[orderID]
	if !ok {
		return gateway.CaptureResult{Outcome: notFound(), Status: gateway.StatusUnknown}, nil
	}
	switch s.status {
	case gateway.StatusPending:
		s.status = gateway.StatusPaid
		s.captureID = newID("cap_mock_")
		a.captures[s.captureID] = s.id
	case gateway.StatusPaid:
	default:
		return gateway.CaptureResult{Outcome: gateway.Declined("invalid_state", "session is "+string(s.status)), Status: s.status}, nil
	}
	return gateway.CaptureResult{Outcome: gateway.Succeeded(), CaptureID: s.captureID, Status: s.status, Amount: s.amount}, nil
}

func (a *Adapter) CreateSubscriptionPlan(_ context.Context, req gateway.PlanRequest) (gateway.PlanResult, error) {
	if !req.Interval.IsRecurring() {
		return gateway.PlanResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("billing period %q is not recurring", req.Interval))
	}
	if _, err := money.ToMinorUnits(req.Amount); err != nil {
		return gateway.PlanResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	if a.failing() {
		return gateway.PlanResult{Outcome: mockFailure("plan")}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id, _ := a.remember(req.IdempotencyKey, newID("plan_mock_"))
	a.plans[id] = req.Amount
	return gateway.PlanResult{Outcome: gateway.Succeeded(), PlanRef: id}, nil
}

func (a *Adapter) CreateSubscription(_ context.Context, req gateway.SubscriptionRequest) (gateway.SubscriptionResult, error) {
	if strings.TrimSpace(req.PlanRef) == "" {
		return gateway.SubscriptionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "plan reference is required")
	}
	if a.failing() {
		return gateway.SubscriptionResult{Outcome: mockFailure("subscription")}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id, replay := a.remember(req.IdempotencyKey, newID("sub_mock_"))
	if !replay {
		s := &session{id: id, metadata: copyMetadata(req.Metadata), status: gateway.StatusPending}
		if amount, ok := a.plans[req.PlanRef]; ok {
			s.amount = &amount
		}
		a.sessions[id] = s
	}
	return gateway.SubscriptionResult{Outcome: gateway.Succeeded(), SubscriptionRef: id, RedirectURL: checkoutURL(id)}, nil
}

func (a *Adapter) GetStatus(_ context.Context, ref string) (gateway.StatusResult, error) {
	if a.failing() {
		return gateway.StatusResult{Outcome: mockFailure("status"), Status: gateway.StatusUnknown}, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[ref]
	if !ok {
		return gateway.StatusResult{Outcome: notFound(), Status: gateway.StatusUnknown}, nil
	}
	return gateway.StatusResult{Outcome: gateway.Succeeded(), Status: s.status, Amount: s.amount, TransactionID: s.captureID}, nil
}

func (a *Adapter) Refund(_ context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	if strings.TrimSpace(req.CaptureRef) == "" {
		return gateway.RefundResult{}, pkgerrors.New(pkgerrors.CodeValidation, "capture reference is required")
	}
	if a.failing() {
		return gateway.RefundResult{Outcome: mockFailure("refund")}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	sessionID, ok := a.captures[req.CaptureRef]
	if !ok {
		return gateway.RefundResult{Outcome: notFound()}, nil
	}
	s := a.sessions[sessionID]
	if s.status != gateway.StatusPaid && s.status != gateway.StatusRefunded {
		return gateway.RefundResult{Outcome: gateway.Declined("invalid_state", "session is "+string(s.status))}, nil
	}
	if req.Amount != nil && s.amount != nil && req.Amount.Value.GreaterThan(s.amount.Value) {
		return gateway.RefundResult{Outcome: gateway.Declined("amount_too_large", "refund exceeds captured amount")}, nil
	}
	refundID, _ := a.remember(req.IdempotencyKey, newID("re_mock_"))
	s.status = gateway.StatusRefunded
	return gateway.RefundResult{Outcome: gateway.Succeeded(), RefundID: refundID, Status: gateway.StatusRefunded}, nil
}

func checkoutURL(id string) string {
	return "https://mockpay.local/checkout/" + id
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newID(prefix string) string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	return prefix + hex.EncodeToString(buf[:])
}
