package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/paycore/api/controllers"
	paymentcontrollers "github.com/angelmondragon/paycore/api/controllers/payments"
	plugincontrollers "github.com/angelmondragon/paycore/api/controllers/plugins"
	webhookcontrollers "github.com/angelmondragon/paycore/api/controllers/webhooks"
	"github.com/angelmondragon/paycore/api/middleware"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// Params wires the HTTP surface. Nil stores disable idempotency replay and
// rate limiting respectively.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Payments    paymentcontrollers.Service
	Webhooks    webhookcontrollers.Service
	Plugins     plugincontrollers.Manager
	Idempotency middleware.IdempotencyStore
	RateLimits  middleware.RateLimitStore
	Ready       map[string]controllers.Pinger
	Metrics     http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	metricsHandler := p.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	webhookPolicy := middleware.NewRateLimitPolicy("webhook", cfg.RateLimit.WebhookWindow, cfg.RateLimit.WebhookLimit)
	idempotent := middleware.Idempotency(p.Idempotency, logg, middleware.ReplayTTL)
	refundIdempotent := middleware.Idempotency(p.Idempotency, logg, middleware.RefundReplayTTL)
	bearer := middleware.Auth(cfg.JWT, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Ready))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/plugins/{provider}", func(r chi.Router) {
		r.With(middleware.RateLimit(webhookPolicy, p.RateLimits, logg)).
			Post("/webhook", webhookcontrollers.ProviderWebhook(p.Webhooks, cfg.App.PublicBaseURL, logg))

		r.Group(func(r chi.Router) {
			r.Use(bearer)
			r.With(idempotent).Post("/create-order", paymentcontrollers.CreateOrder(p.Payments, logg))
			r.With(idempotent).Post("/capture-order", paymentcontrollers.CaptureOrder(p.Payments, logg))
			r.With(refundIdempotent).Post("/refund", paymentcontrollers.Refund(p.Payments, logg))
			r.Get("/session-status/{id}", paymentcontrollers.SessionStatus(p.Payments, logg))
		})
	})

	r.Route("/api/v1/tokens", func(r chi.Router) {
		r.Use(bearer)
		r.Get("/balance", paymentcontrollers.TokenBalance(p.Payments, logg))
		r.Get("/transactions", paymentcontrollers.TokenTransactions(p.Payments, logg))
	})

	r.Route("/api/admin/v1/plugins", func(r chi.Router) {
		r.Use(bearer)
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.Get("/", plugincontrollers.AdminList(p.Plugins, logg))
		r.With(idempotent).Put("/{provider}", plugincontrollers.AdminConfigure(p.Plugins, logg))
	})

	return r
}
