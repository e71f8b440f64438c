package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/hanko-field/order-engine/internal/platform/httpx"
)

var (
	// ErrJWKSKeyNotFound is returned when the kid is absent from the key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing keys.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const defaultJWKSValidity = 15 * time.Minute

// JWKSCache fetches signing keys on demand and keeps them until the
// Cache-Control max-age elapses.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	refreshMu sync.Mutex
}

// NewJWKSCache constructs a cache for url. A nil client uses a 10s timeout client.
func NewJWKSCache(url string, client *http.Client) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{url: url, client: client, now: time.Now}
}

// Key resolves the public key for kid, refreshing once on a miss.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) cached(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || !c.now().Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := maxAge(resp.Header.Get("Cache-Control"))
	if validity <= 0 {
		validity = defaultJWKSValidity
	}
	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(validity)
	c.mu.Unlock()
	return nil
}

func maxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity is the verified caller of an internal job endpoint.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// ServiceIdentityFromContext returns the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCVerifier validates Google-signed ID tokens sent by Cloud Scheduler.
type OIDCVerifier struct {
	keys     *JWKSCache
	audience string
	issuers  map[string]struct{}
	logger   *zap.Logger
}

// NewOIDCVerifier constructs a verifier accepting tokens for audience from issuers.
func NewOIDCVerifier(keys *JWKSCache, audience string, issuers []string, logger *zap.Logger) *OIDCVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed[issuer] = struct{}{}
		}
	}
	return &OIDCVerifier{keys: keys, audience: strings.TrimSpace(audience), issuers: allowed, logger: logger}
}

// RequireOIDC rejects requests without a valid bearer token.
func (v *OIDCVerifier) RequireOIDC() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil || v.keys == nil || v.audience == "" {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc verification not configured", http.StatusServiceUnavailable))
				return
			}
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "oidc token missing", http.StatusUnauthorized))
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
				kid, _ := token.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("auth: token missing kid header")
				}
				return v.keys.Key(ctx, kid)
			})
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrJWKSFetchFailed) {
					status = http.StatusServiceUnavailable
				}
				v.logger.Warn("oidc verification failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc token verification failed", status))
				return
			}

			issuer, _ := claims["iss"].(string)
			if _, ok := v.issuers[issuer]; len(v.issuers) > 0 && !ok {
				v.logger.Warn("oidc issuer mismatch", zap.String("issuer", issuer))
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc issuer mismatch", http.StatusUnauthorized))
				return
			}
			if !claims.VerifyAudience(v.audience, true) {
				v.logger.Warn("oidc audience mismatch", zap.String("expected", v.audience))
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc audience mismatch", http.StatusUnauthorized))
				return
			}

			identity := &ServiceIdentity{Issuer: issuer}
			identity.Subject, _ = claims["sub"].(string)
			identity.Email, _ = claims["email"].(string)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityContextKey{}, identity)))
		})
	}
}
