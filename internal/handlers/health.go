package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/httpx"
	"github.com/hanko-field/order-engine/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	checks repositories.HealthRepository
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthBuildInfo sets the version fields reported by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthRepository sets the dependency probes run by /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.checks = repo
	}
}

// WithHealthClock overrides the clock, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      domain.HealthStatusOK,
		"version":     h.build.Version,
		"commitSha":   h.build.CommitSHA,
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp":   now.UTC().Format(time.RFC3339),
	})
}

// Readyz probes the ledger store and any other registered dependency.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checks == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":      domain.HealthStatusOK,
			"checks":      map[string]domain.DependencyHealth{},
			"generatedAt": h.clock().UTC(),
		})
		return
	}

	report, err := h.checks.Collect(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("readiness_unavailable", "failed to collect readiness report", http.StatusServiceUnavailable))
		return
	}

	details := make([]string, 0)
	for name, dep := range report.Dependencies {
		if dep.Status != domain.HealthStatusOK {
			details = append(details, name+": "+dep.Detail)
		}
	}
	sort.Strings(details)

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, map[string]any{
		"status":      report.Status,
		"checks":      report.Dependencies,
		"details":     details,
		"generatedAt": report.GeneratedAt,
	})
}
