package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/enums"
)

type principalKey struct{}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID  uuid.UUID
	Role    enums.Role
	TokenID string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext reports false on unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

func UserUUIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.UserID, ok
}

// UserIDFromContext is "" for anonymous callers.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.Role {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}
