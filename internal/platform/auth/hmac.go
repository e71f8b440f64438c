package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/order-engine/internal/platform/httpx"
)

// NonceCache remembers webhook nonces until they expire.
type NonceCache struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewNonceCache constructs an empty cache.
func NewNonceCache() *NonceCache {
	return &NonceCache{nonces: make(map[string]time.Time)}
}

// Use records nonce under scope and reports false when it was already seen.
func (c *NonceCache) Use(scope, nonce string, now, expiry time.Time) bool {
	key := scope + "::" + nonce
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, exp := range c.nonces {
		if !exp.After(now) {
			delete(c.nonces, k)
		}
	}
	if _, seen := c.nonces[key]; seen {
		return false
	}
	c.nonces[key] = expiry
	return true
}

// SignatureOptions names the signature headers and replay window.
type SignatureOptions struct {
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// WebhookSigner verifies HMAC-SHA256 signed provider callbacks. The signed
// message is "<timestamp>\n<nonce>\n<hex sha256 of body>".
type WebhookSigner struct {
	secrets map[string][]byte
	nonces  *NonceCache
	opts    SignatureOptions
	now     func() time.Time
}

// NewWebhookSigner constructs a verifier with one secret per provider name.
func NewWebhookSigner(secrets map[string]string, opts SignatureOptions) *WebhookSigner {
	keyed := make(map[string][]byte, len(secrets))
	for name, secret := range secrets {
		if secret != "" {
			keyed[strings.ToLower(name)] = []byte(secret)
		}
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-Signature"
	}
	if opts.TimestampHeader == "" {
		opts.TimestampHeader = "X-Signature-Timestamp"
	}
	if opts.NonceHeader == "" {
		opts.NonceHeader = "X-Signature-Nonce"
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = 5 * time.Minute
	}
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = opts.ClockSkew
	}
	return &WebhookSigner{secrets: keyed, nonces: NewNonceCache(), opts: opts, now: time.Now}
}

// Sign computes the hex signature for body. Providers and tests use it to
// produce matching headers.
func Sign(secret, timestamp, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "\n" + nonce + "\n" + hex.EncodeToString(sum[:])))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequireSignature verifies the request against the secret of the provider
// returned by providerOf.
func (s *WebhookSigner) RequireSignature(providerOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			provider := strings.ToLower(strings.TrimSpace(providerOf(r)))
			secret, ok := s.secrets[provider]
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "webhook provider not recognised", http.StatusUnauthorized))
				return
			}

			signature := strings.TrimSpace(r.Header.Get(s.opts.SignatureHeader))
			timestamp := strings.TrimSpace(r.Header.Get(s.opts.TimestampHeader))
			nonce := strings.TrimSpace(r.Header.Get(s.opts.NonceHeader))
			if signature == "" || timestamp == "" || nonce == "" {
				httpx.WriteError(ctx, w, httpx.NewError("signature_missing", "signature headers missing", http.StatusUnauthorized))
				return
			}
			signedAt, err := parseUnixTimestamp(timestamp)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("timestamp_invalid", "signature timestamp invalid", http.StatusUnauthorized))
				return
			}
			now := s.now()
			if skew := now.Sub(signedAt); skew > s.opts.ClockSkew || skew < -s.opts.ClockSkew {
				httpx.WriteError(ctx, w, httpx.NewError("timestamp_skew", "signature timestamp outside allowed window", http.StatusUnauthorized))
				return
			}

			body, err := io.ReadAll(r.Body)
			_ = r.Body.Close()
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			expected := Sign(string(secret), timestamp, nonce, body)
			if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
				httpx.WriteError(ctx, w, httpx.NewError("signature_mismatch", "signature verification failed", http.StatusUnauthorized))
				return
			}
			if !s.nonces.Use(provider, nonce, now, now.Add(s.opts.NonceTTL)) {
				httpx.WriteError(ctx, w, httpx.NewError("nonce_replay", "duplicate signature nonce", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseUnixTimestamp(value string) (time.Time, error) {
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("auth: timestamp must be unix seconds")
	}
	return time.Unix(seconds, 0).UTC(), nil
}
