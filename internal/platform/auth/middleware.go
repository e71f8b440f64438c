package auth

import (
	"context"
	"net/http"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/order-engine/internal/platform/httpx"
)

const (
	roleClaim            = "role"
	emailClaim           = "email"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into identities.
type Authenticator struct {
	verifier TokenVerifier
	timeout  time.Duration
}

// NewAuthenticator wraps verifier. Tokens without a role claim resolve to customers.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout}
}

// RequireRoles rejects requests without a valid token carrying one of roles.
// With no roles any verified caller passes.
func (a *Authenticator) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
			cancel()
			if err != nil {
				code := "invalid_token"
				if firebaseauth.IsIDTokenExpired(err) {
					code = "token_expired"
				}
				httpx.WriteError(ctx, w, httpx.NewError(code, "firebase id token verification failed", http.StatusUnauthorized))
				return
			}

			identity := identityFromToken(token)
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{UID: token.UID, Claims: token.Claims}
	if email, ok := token.Claims[emailClaim].(string); ok {
		identity.Email = email
	}
	identity.Roles = rolesFromClaim(token.Claims[roleClaim])
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleCustomer}
	}
	return identity
}

func rolesFromClaim(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []string:
		values = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := normaliseRole(value)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
