// Package payments implements the provider-agnostic payment routes and the
// webhook intake on top of the plugin manager and the event dispatcher.
package payments

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/internal/events"
	"github.com/angelmondragon/paycore/internal/events/handlers"
	"github.com/angelmondragon/paycore/internal/invoices"
	"github.com/angelmondragon/paycore/internal/ledger"
	"github.com/angelmondragon/paycore/internal/plans"
	"github.com/angelmondragon/paycore/internal/plugins"
	"github.com/angelmondragon/paycore/internal/subscriptions"
	"github.com/angelmondragon/paycore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
)

// Params wires a Service.
type Params struct {
	Plugins       plugins.Resolver
	Invoices      invoices.Repository
	Subscriptions subscriptions.Repository
	Plans         plans.Repository
	Ledger        ledger.Service
	Emitter       events.Emitter
	Guard         WebhookGuard
	Metrics       *metrics.WebhookMetrics
	Logger        *logger.Logger
	// PublicBaseURL builds provider return and cancel URLs.
	PublicBaseURL string
}

// Service runs payment routes against whichever provider the caller names.
type Service struct {
	plugins       plugins.Resolver
	invoices      invoices.Repository
	subscriptions subscriptions.Repository
	plans         plans.Repository
	ledger        ledger.Service
	emitter       events.Emitter
	guard         WebhookGuard
	metrics       *metrics.WebhookMetrics
	logg          *logger.Logger
	baseURL       string
}

func NewService(p Params) (*Service, error) {
	switch {
	case p.Plugins == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plugin resolver required")
	case p.Invoices == nil || p.Subscriptions == nil || p.Plans == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repositories required")
	case p.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	case p.Emitter == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event emitter required")
	}
	return &Service{
		plugins:       p.Plugins,
		invoices:      p.Invoices,
		subscriptions: p.Subscriptions,
		plans:         p.Plans,
		ledger:        p.Ledger,
		emitter:       p.Emitter,
		guard:         p.Guard,
		metrics:       p.Metrics,
		logg:          p.Logger,
		baseURL:       strings.TrimRight(p.PublicBaseURL, "/"),
	}, nil
}

func (s *Service) returnURLs(invoiceID uuid.UUID) (string, string) {
	if s.baseURL == "" {
		return "", ""
	}
	base := s.baseURL + "/checkout/" + invoiceID.String()
	return base + "/complete", base + "/cancel"
}

// ownedInvoice loads the invoice and hides it from anyone but its owner.
func ownedInvoice(invoice *models.Invoice, userID uuid.UUID) (*models.Invoice, error) {
	if invoice == nil || invoice.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *Service) loadPlans(ctx context.Context, invoice *models.Invoice) (map[uuid.UUID]models.Plan, error) {
	out := map[uuid.UUID]models.Plan{}
	for _, item := range invoice.LineItems {
		if item.PlanID == nil {
			continue
		}
		if _, seen := out[*item.PlanID]; seen {
			continue
		}
		plan, err := s.plans.FindByID(ctx, *item.PlanID)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			out[plan.ID] = *plan
		}
	}
	return out, nil
}

func (s *Service) handlerDeps() handlers.Deps {
	return handlers.Deps{
		Invoices:      s.invoices,
		Subscriptions: s.subscriptions,
		Plans:         s.plans,
		Ledger:        s.ledger,
	}
}

func (s *Service) event(ctx context.Context, name, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Event(s.logg.WithFields(ctx, fields), name, msg)
}

func (s *Service) warn(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), msg)
}

// declined hides the provider's wording behind PAYMENT_DECLINED and keeps its
// code as the reason.
func declined(code string) error {
	if code == "" {
		code = "declined"
	}
	return pkgerrors.New(pkgerrors.CodeDeclined, "payment was declined").
		WithDetails(map[string]string{"reason": code})
}

func (s *Service) withProvider(ctx context.Context, provider string) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithProvider(ctx, provider)
}
