// Package stripe adapts Stripe hosted checkout to the gateway contract.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// Provider is the plugin name.
const Provider = "stripe"

// Credential keys read from the plugin config.
const (
	CredentialAPIKey        = "api_key"
	CredentialWebhookSecret = "webhook_secret"
)

// RequiredCredentials lists the keys a stripe plugin config must carry.
var RequiredCredentials = []string{CredentialAPIKey, CredentialWebhookSecret}

// mode is the Stripe account mode a key belongs to.
type mode string

const (
	modeTest mode = "test"
	modeLive mode = "live"
)

// Secret and restricted keys both work for server calls.
var keyPrefixes = map[mode][]string{
	modeTest: {"sk_test_", "rk_test_"},
	modeLive: {"sk_live_", "rk_live_"},
}

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
	errUnknownMode    = errors.New("unknown stripe mode")
)

func modeFor(sandbox bool) mode {
	if sandbox {
		return modeTest
	}
	return modeLive
}

// checkKey rejects a key from the other mode, so a sandbox plugin can never
// charge real cards.
func checkKey(m mode, key string) error {
	prefixes, ok := keyPrefixes[m]
	if !ok {
		return fmt.Errorf("%w %q", errUnknownMode, m)
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s mode needs a key starting with %s", m, strings.Join(prefixes, " or "))
}

// Adapter talks to Stripe through a per-plugin API client. Funds settle when
// the customer completes checkout, so capture is a status read.
type Adapter struct {
	api           *stripe.Client
	mode          mode
	signingSecret string
	retrier       *gateway.Retrier
	logg          *logger.Logger
}

var _ gateway.Adapter = (*Adapter)(nil)

// New is the gateway.Factory for Stripe.
func New(ctx context.Context, settings gateway.Settings, opts gateway.Options) (gateway.Adapter, error) {
	m := modeFor(settings.Sandbox)
	apiKey := strings.TrimSpace(settings.Credential(CredentialAPIKey))
	secret := strings.TrimSpace(settings.Credential(CredentialWebhookSecret))
	switch {
	case apiKey == "":
		return nil, errAPIKeyRequired
	case secret == "":
		return nil, errSecretRequired
	}
	if err := checkKey(m, apiKey); err != nil {
		return nil, err
	}

	a := &Adapter{
		api:           newAPI(apiKey, opts),
		mode:          m,
		signingSecret: secret,
		retrier:       opts.RetrierOrDefault(),
		logg:          opts.Logger,
	}
	if a.logg != nil {
		a.logg.Info(a.logg.WithField(a.logg.WithProvider(ctx, Provider), "mode", string(m)), "stripe client initialized")
	}
	return a, nil
}

// newAPI builds a client that never retries on its own; the gateway retrier
// owns backoff.
func newAPI(apiKey string, opts gateway.Options) *stripe.Client {
	cfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.URL = stripe.String(base)
	}
	return stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackendsWithConfig(cfg)))
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) CaptureMode() gateway.CaptureMode { return gateway.CaptureAutomatic }

// Environment reports "test" or "live".
func (a *Adapter) Environment() string {
	if a == nil {
		return ""
	}
	return string(a.mode)
}
