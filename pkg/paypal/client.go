// Package paypal adapts the PayPal REST API (Orders v2, Billing v1) to the
// gateway contract. Orders are approved by the buyer and captured explicitly.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// Provider is the plugin name.
const Provider = "paypal"

// Credential keys read from the plugin config.
const (
	CredentialClientID     = "client_id"
	CredentialClientSecret = "client_secret"
	CredentialWebhookID    = "webhook_id"
)

// RequiredCredentials lists the keys a paypal plugin config must carry.
var RequiredCredentials = []string{CredentialClientID, CredentialClientSecret, CredentialWebhookID}

const (
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"

	tokenPath        = "/v1/oauth2/token"
	requestIDHeader  = "PayPal-Request-Id"
	tokenEarlyExpiry = 60 * time.Second
	maxResponseBytes = 1 << 20
)

var (
	errClientIDRequired     = errors.New("paypal client id is required")
	errClientSecretRequired = errors.New("paypal client secret is required")
	errWebhookIDRequired    = errors.New("paypal webhook id is required")
)

// Adapter calls PayPal over an OAuth2 client whose token is cached and
// refreshed a minute before expiry.
type Adapter struct {
	baseURL   string
	webhookID string
	http      *http.Client
	retrier   *gateway.Retrier
	logger    *logger.Logger
}

var _ gateway.Adapter = (*Adapter)(nil)

// New is the gateway.Factory for PayPal.
func New(ctx context.Context, settings gateway.Settings, opts gateway.Options) (gateway.Adapter, error) {
	clientID := settings.Credential(CredentialClientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	clientSecret := settings.Credential(CredentialClientSecret)
	if clientSecret == "" {
		return nil, errClientSecretRequired
	}
	webhookID := settings.Credential(CredentialWebhookID)
	if webhookID == "" {
		return nil, errWebhookIDRequired
	}

	baseURL := liveBaseURL
	if settings.Sandbox {
		baseURL = sandboxBaseURL
	}
	if override := strings.TrimSpace(opts.BaseURL); override != "" {
		baseURL = strings.TrimRight(override, "/")
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	// Token fetches outlive any single request, so they run on a detached
	// context carrying only the transport.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	creds := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokens := oauth2.ReuseTokenSourceWithExpiry(nil, creds.TokenSource(tokenCtx), tokenEarlyExpiry)

	if opts.Logger != nil {
		opts.Logger.Info(opts.Logger.WithProvider(ctx, Provider), "paypal client initialized")
	}
	return &Adapter{
		baseURL:   baseURL,
		webhookID: webhookID,
		http:      oauth2.NewClient(tokenCtx, tokens),
		retrier:   opts.RetrierOrDefault(),
		logger:    opts.Logger,
	}, nil
}

func (a *Adapter) Provider() string { return Provider }

func (a *Adapter) CaptureMode() gateway.CaptureMode { return gateway.CaptureExplicit }

// apiError is a non-2xx PayPal response.
type apiError struct {
	Status  int
	Name    string
	Message string
	Issue   string
}

func (e *apiError) ProviderCode() string {
	if e.Issue != "" {
		return e.Issue
	}
	return e.Name
}

func (e *apiError) ProviderStatus() int { return e.Status }

func (e *apiError) Error() string {
	if e.Issue != "" {
		return fmt.Sprintf("paypal %d %s: %s (%s)", e.Status, e.Name, e.Message, e.Issue)
	}
	return fmt.Sprintf("paypal %d %s: %s", e.Status, e.Name, e.Message)
}

type errorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	// OAuth failures use a different shape.
	OAuthError       string `json:"error"`
	OAuthDescription string `json:"error_description"`
}

// send performs one HTTP exchange and decodes a JSON response into out.
func (a *Adapter) send(ctx context.Context, method, path string, body any, requestID string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode paypal request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paypal request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := a.http.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && !gateway.TransientStatus(retrieveErr.Response.StatusCode) {
			return gateway.ProviderError(Provider, "oauth token", err)
		}
		return gateway.Transient(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gateway.Transient(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		var parsed errorBody
		if json.Unmarshal(raw, &parsed) == nil {
			apiErr.Name = parsed.Name
			apiErr.Message = parsed.Message
			if len(parsed.Details) > 0 {
				apiErr.Issue = parsed.Details[0].Issue
				if apiErr.Message == "" {
					apiErr.Message = parsed.Details[0].Description
				}
			}
			if apiErr.Name == "" && parsed.OAuthError != "" {
				apiErr.Name = parsed.OAuthError
				apiErr.Message = parsed.OAuthDescription
			}
		}
		if gateway.TransientStatus(resp.StatusCode) {
			return gateway.Transient(apiErr)
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paypal response")
	}
	return nil
}

// call runs send under the retrier and folds business refusals into an
// outcome.
func (a *Adapter) call(ctx context.Context, op string, safe bool, fn func(ctx context.Context) error) (*gateway.Outcome, error) {
	var declined *gateway.Outcome
	err := a.retrier.Do(ctx, gateway.Call{Provider: Provider, Operation: op, Safe: safe}, func(ctx context.Context) error {
		declined = nil
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var apiErr *apiError
		if errors.As(err, &apiErr) && !gateway.IsTransient(err) {
			if outcome := declinedOutcome(apiErr); outcome != nil {
				declined = outcome
				return nil
			}
			return gateway.ProviderError(Provider, op, err)
		}
		return err
	})
	if err != nil && a.logger != nil {
		a.logger.Error(a.logger.WithFields(ctx, map[string]any{"provider": Provider, "operation": op}), "paypal call failed", err)
	}
	return declined, err
}

func declinedOutcome(apiErr *apiError) *gateway.Outcome {
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil
	case http.StatusNotFound:
		outcome := gateway.Declined("not_found", apiErr.Message)
		return &outcome
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		code := strings.ToLower(apiErr.Issue)
		if code == "" {
			code = strings.ToLower(apiErr.Name)
		}
		if code == "" {
			code = "invalid_request"
		}
		outcome := gateway.Declined(code, apiErr.Message)
		return &outcome
	default:
		return nil
	}
}
