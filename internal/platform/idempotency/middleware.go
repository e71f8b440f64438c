package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/order-engine/internal/platform/auth"
	"github.com/hanko-field/order-engine/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "Idempotent-Replayed"
	defaultTTL    = 24 * time.Hour
)

// Config tunes Middleware.
type Config struct {
	Header string
	TTL    time.Duration
	Logger *zap.Logger
	Clock  func() time.Time
}

// Middleware replays the stored response of a POST that carries an
// idempotency key already seen for the same caller. Requests without the
// header pass through. Server errors release the key so clients can retry.
func Middleware(store Store, cfg Config) func(http.Handler) http.Handler {
	if cfg.Header == "" {
		cfg.Header = defaultHeader
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(cfg.Header))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(key) > 255 {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(r.Body)
			_ = r.Body.Close()
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			actor := requester(r)
			id := recordID(key, actor)
			fp := fingerprint(r.Method, r.URL.Path, actor, body)

			outcome, stored, err := store.Claim(ctx, id, fp, cfg.Clock().UTC(), cfg.TTL)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				cfg.Logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch outcome {
			case OutcomeReplay:
				for name, values := range stored.Headers {
					for _, value := range values {
						w.Header().Add(name, value)
					}
				}
				w.Header().Set(replayHeader, "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, id); err != nil {
					cfg.Logger.Warn("idempotency release failed", zap.Error(err))
				}
				return
			}
			resp := Response{Status: rec.status, Headers: captureHeaders(w.Header()), Body: rec.body.Bytes()}
			if err := store.Complete(ctx, id, fp, resp, cfg.Clock().UTC(), cfg.TTL); err != nil {
				cfg.Logger.Warn("idempotency save failed", zap.Error(err))
			}
		})
	}
}

func requester(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok {
		return "svc:" + svc.Subject
	}
	return "anonymous"
}

// recorder tees the response so it can be stored after the handler returns.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
