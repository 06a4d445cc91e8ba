package paypal

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

type productRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type frequency struct {
	IntervalUnit  string `json:"interval_unit"`
	IntervalCount int    `json:"interval_count"`
}

type billingCycle struct {
	Frequency     frequency `json:"frequency"`
	TenureType    string    `json:"tenure_type"`
	Sequence      int       `json:"sequence"`
	TotalCycles   int       `json:"total_cycles"`
	PricingScheme struct {
		FixedPrice amount `json:"fixed_price"`
	} `json:"pricing_scheme"`
}

type planRequest struct {
	ProductID          string         `json:"product_id"`
	Name               string         `json:"name"`
	BillingCycles      []billingCycle `json:"billing_cycles"`
	PaymentPreferences struct {
		AutoBillOutstanding bool `json:"auto_bill_outstanding"`
	} `json:"payment_preferences"`
}

type subscriptionRequest struct {
	PlanID             string             `json:"plan_id"`
	CustomID           string             `json:"custom_id,omitempty"`
	ApplicationContext applicationContext `json:"application_context"`
}

type resource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

func intervalFor(period enums.BillingPeriod) (frequency, bool) {
	switch period {
	case enums.BillingPeriodWeekly:
		return frequency{IntervalUnit: "WEEK", IntervalCount: 1}, true
	case enums.BillingPeriodMonthly:
		return frequency{IntervalUnit: "MONTH", IntervalCount: 1}, true
	case enums.BillingPeriodQuarterly:
		return frequency{IntervalUnit: "MONTH", IntervalCount: 3}, true
	case enums.BillingPeriodYearly:
		return frequency{IntervalUnit: "YEAR", IntervalCount: 1}, true
	default:
		return frequency{}, false
	}
}

// CreateSubscriptionPlan creates a catalog product and a billing plan on it.
func (a *Adapter) CreateSubscriptionPlan(ctx context.Context, req gateway.PlanRequest) (gateway.PlanResult, error) {
	freq, ok := intervalFor(req.Interval)
	if !ok {
		return gateway.PlanResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("billing period %q is not recurring", req.Interval))
	}
	if _, err := money.ToMinorUnits(req.Amount); err != nil {
		return gateway.PlanResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return gateway.PlanResult{}, pkgerrors.New(pkgerrors.CodeValidation, "plan name is required")
	}

	safe := req.IdempotencyKey != ""
	productKey, planKey := "", ""
	if safe {
		productKey = req.IdempotencyKey + "-product"
		planKey = req.IdempotencyKey + "-plan"
	}

	var product resource
	declined, err := a.call(ctx, "create_product", safe, func(ctx context.Context) error {
		return a.send(ctx, http.MethodPost, "/v1/catalogs/products", productRequest{Name: name, Type: "SERVICE"}, productKey, &product)
	})
	if err != nil {
		return gateway.PlanResult{}, err
	}
	if declined != nil {
		return gateway.PlanResult{Outcome: *declined}, nil
	}

	body := planRequest{ProductID: product.ID, Name: name}
	cycle := billingCycle{Frequency: freq, TenureType: "REGULAR", Sequence: 1}
	cycle.PricingScheme.FixedPrice = toAmount(req.Amount)
	body.BillingCycles = []billingCycle{cycle}
	body.PaymentPreferences.AutoBillOutstanding = true

	var plan resource
	declined, err = a.call(ctx, "create_plan", safe, func(ctx context.Context) error {
		return a.send(ctx, http.MethodPost, "/v1/billing/plans", body, planKey, &plan)
	})
	if err != nil {
		return gateway.PlanResult{}, err
	}
	if declined != nil {
		return gateway.PlanResult{Outcome: *declined}, nil
	}
	return gateway.PlanResult{Outcome: gateway.Succeeded(), PlanRef: plan.ID}, nil
}

// CreateSubscription creates a billing subscription awaiting buyer approval.
func (a *Adapter) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (gateway.SubscriptionResult, error) {
	if strings.TrimSpace(req.PlanRef) == "" {
		return gateway.SubscriptionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "plan reference is required")
	}
	body := subscriptionRequest{
		PlanID:   req.PlanRef,
		CustomID: req.Metadata[gateway.MetadataInvoiceID],
		ApplicationContext: applicationContext{
			ReturnURL:  req.ReturnURL,
			CancelURL:  req.CancelURL,
			UserAction: "SUBSCRIBE_NOW",
		},
	}
	var sub resource
	declined, err := a.call(ctx, "create_subscription", req.IdempotencyKey != "", func(ctx context.Context) error {
		return a.send(ctx, http.MethodPost, "/v1/billing/subscriptions", body, req.IdempotencyKey, &sub)
	})
	if err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if declined != nil {
		return gateway.SubscriptionResult{Outcome: *declined}, nil
	}
	return gateway.SubscriptionResult{Outcome: gateway.Succeeded(), SubscriptionRef: sub.ID, RedirectURL: approvalURL(sub.Links)}, nil
}
