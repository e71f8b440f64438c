package auth

import (
	"context"
	"strings"

	"github.com/hanko-field/order-engine/internal/platform/requestctx"
)

// Roles carried in the "role" custom claim of Firebase ID tokens.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Identity is the verified caller of a customer or management endpoint.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Claims map[string]any
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries one of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsStaff reports whether the identity may use management endpoints.
func (i *Identity) IsStaff() bool {
	return i.HasAnyRole(RoleStaff, RoleAdmin)
}

// ActorID is the value recorded as changedBy on history, ledger and audit entries.
func (i *Identity) ActorID() string {
	if i == nil {
		return ""
	}
	if i.IsStaff() {
		return "staff:" + i.UID
	}
	return "customer:" + i.UID
}

type identityContextKey struct{}

// WithIdentity stores identity on ctx and records its actor id for logging.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	ctx = context.WithValue(ctx, identityContextKey{}, identity)
	if actor := identity.ActorID(); actor != "" {
		ctx = requestctx.WithActor(ctx, actor)
	}
	return ctx
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
