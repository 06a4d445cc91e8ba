// Package square adapts the Square Payments API to the gateway contract.
// Payments are authorized with a card source and completed in a second call.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// Provider is the plugin name.
const Provider = "square"

// Credential keys read from the plugin config.
const (
	CredentialAccessToken         = "access_token"
	CredentialWebhookSignatureKey = "webhook_signature_key"
	CredentialLocationID          = "location_id"
	CredentialNotificationURL     = "notification_url"
)

// RequiredCredentials lists the keys a square plugin config must carry.
var RequiredCredentials = []string{
	CredentialAccessToken,
	CredentialWebhookSignatureKey,
	CredentialLocationID,
	CredentialNotificationURL,
}

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook signature key is required")
	errLocationRequired      = errors.New("square location id is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Adapter exposes Square payments with centralized logging, retries and error
// mapping.
type Adapter struct {
	sdk             *sqclient.Client
	environment     string
	webhookSecret   string
	locationID      string
	notificationURL string
	baseURL         string
	retrier         *gateway.Retrier
	logger          *logger.Logger
}

var _ gateway.Adapter = (*Adapter)(nil)

// New is the gateway.Factory for Square.
func New(ctx context.Context, settings gateway.Settings, opts gateway.Options) (gateway.Adapter, error) {
	env := productionEnv
	if settings.Sandbox {
		env = sandboxEnv
	}

	accessToken := settings.Credential(CredentialAccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	webhookSecret := settings.Credential(CredentialWebhookSignatureKey)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}
	locationID := settings.Credential(CredentialLocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}

	baseURL := baseURLs[env]
	if override := strings.TrimSpace(opts.BaseURL); override != "" {
		baseURL = override
	}
	clientOpts := []sqoption.RequestOption{
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
		// Retries belong to the gateway retrier.
		sqoption.WithMaxAttempts(1),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, sqoption.WithHTTPClient(opts.HTTPClient))
	}

	a := &Adapter{
		sdk:             sqclient.NewClient(clientOpts...),
		environment:     env,
		webhookSecret:   webhookSecret,
		locationID:      locationID,
		notificationURL: settings.Credential(CredentialNotificationURL),
		baseURL:         baseURL,
		retrier:         opts.RetrierOrDefault(),
		logger:          opts.Logger,
	}
	a.log(ctx, "init", "client", map[string]any{"environment": env})
	return a, nil
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) CaptureMode() gateway.CaptureMode { return gateway.CaptureExplicit }

// Environment reports the normalized Square environment.
func (a *Adapter) Environment() string {
	if a == nil {
		return ""
	}
	return a.environment
}

func (a *Adapter) log(ctx context.Context, phase, op string, fields map[string]any) {
	if a == nil || a.logger == nil {
		return
	}
	logFields := map[string]any{
		"provider":  Provider,
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = a.redact(k, v)
	}
	ctx = a.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		a.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		a.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func (a *Adapter) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "source", "token", "cvv", "cvc", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// classify splits Square failures into declined outcomes and errors.
func (a *Adapter) classify(err error, op string) (*gateway.Outcome, error) {
	if err == nil {
		return nil, nil
	}
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return nil, gateway.Transient(err)
	}
	if gateway.TransientStatus(apiErr.StatusCode) {
		return nil, gateway.Transient(a.mapSquareError(err, op))
	}
	squareErrs := a.extractSquareErrors(apiErr)
	for _, sqErr := range squareErrs {
		if sqErr == nil {
			continue
		}
		if sqErr.Category == sq.ErrorCategoryPaymentMethodError {
			outcome := gateway.Declined(strings.ToLower(string(sqErr.Code)), stringOf(sqErr.Detail))
			return &outcome, nil
		}
	}
	if apiErr.StatusCode == http.StatusNotFound {
		outcome := gateway.Declined("not_found", "square resource not found")
		return &outcome, nil
	}
	return nil, a.mapSquareError(err, op)
}

func (a *Adapter) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range a.extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeIdempotency
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeDependency
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func (a *Adapter) extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

// domainCodeForStatus maps non-declined Square HTTP failures. Credentials
// belong to the plugin, so auth failures surface as dependency errors rather
// than as the caller's problem.
func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeDependency
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeDependency
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func stringOf[T string | *string](v T) string {
	switch typed := any(v).(type) {
	case string:
		return typed
	case *string:
		if typed == nil {
			return ""
		}
		return *typed
	}
	return ""
}
