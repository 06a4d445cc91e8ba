package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// ParsePagination reads the limit and cursor query parameters.
func ParsePagination(r *http.Request) (pagination.Params, error) {
	query := r.URL.Query()
	params := pagination.Params{
		Limit:  pagination.DefaultLimit,
		Cursor: strings.TrimSpace(query.Get("cursor")),
	}
	raw := strings.TrimSpace(query.Get("limit"))
	if raw == "" {
		return params, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "limit must be numeric").
			WithDetails(map[string]any{"field": "limit"})
	}
	if limit < 1 || limit > pagination.MaxLimit {
		return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "limit out of range").
			WithDetails(map[string]any{"field": "limit", "min": 1, "max": pagination.MaxLimit})
	}
	params.Limit = limit
	return params, nil
}
