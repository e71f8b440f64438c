package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// Outcome is the result of claiming a key.
type Outcome int

const (
	// OutcomeNew means the caller owns the key and must run the command.
	OutcomeNew Outcome = iota
	// OutcomeReplay means a stored response exists for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// ErrFingerprintMismatch means the key was used for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// Response is a captured command response.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Store persists key claims and completed responses.
type Store interface {
	Claim(ctx context.Context, id, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Response, error)
	Complete(ctx context.Context, id, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, id string) error
}

func recordID(key, actor string) string {
	sum := sha256.Sum256([]byte(actor + "|" + key))
	return hex.EncodeToString(sum[:])
}

func fingerprint(method, path, actor string, body []byte) string {
	bodySum := sha256.Sum256(body)
	sum := sha256.Sum256([]byte(method + "|" + path + "|" + actor + "|" + hex.EncodeToString(bodySum[:])))
	return hex.EncodeToString(sum[:])
}

var replayableHeaders = []string{"Content-Type", "Location"}

func captureHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string)
	for _, name := range replayableHeaders {
		if values := h.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}
