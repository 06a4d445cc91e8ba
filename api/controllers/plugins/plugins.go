// Package plugins exposes admin management of payment provider plugins.
package plugins

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/paycore/api/responses"
	"github.com/angelmondragon/paycore/api/validators"
	pluginsvc "github.com/angelmondragon/paycore/internal/plugins"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
)

// Manager is the admin surface of the plugin manager.
type Manager interface {
	List(ctx context.Context) ([]pluginsvc.Status, error)
	Configure(ctx context.Context, provider string, input pluginsvc.ConfigInput) (*pluginsvc.Status, error)
}

type configureRequest struct {
	Enabled     *bool             `json:"enabled" validate:"required"`
	Sandbox     bool              `json:"sandbox"`
	Credentials map[string]string `json:"credentials,omitempty" validate:"omitempty,dive,keys,required,max=64,credential_key,endkeys,max=4096"`
}

func AdminList(mgr Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if mgr == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plugin manager unavailable"))
			return
		}
		statuses, err := mgr.List(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if statuses == nil {
			statuses = []pluginsvc.Status{}
		}
		responses.WriteSuccess(w, statuses)
	}
}

func AdminConfigure(mgr Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if mgr == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plugin manager unavailable"))
			return
		}
		provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
		if provider == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "provider is required"))
			return
		}
		if logg != nil {
			ctx = logg.WithProvider(ctx, provider)
		}

		var body configureRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status, err := mgr.Configure(ctx, provider, pluginsvc.ConfigInput{
			Enabled:     *body.Enabled,
			Sandbox:     body.Sandbox,
			Credentials: body.Credentials,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
