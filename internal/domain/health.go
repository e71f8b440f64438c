package domain

import "time"

// HealthStatus is the state of one dependency or of the whole service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// DependencyHealth is the result of probing one dependency.
type DependencyHealth struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// HealthReport aggregates dependency probes for the readiness endpoint.
type HealthReport struct {
	Status       HealthStatus                `json:"status"`
	Dependencies map[string]DependencyHealth `json:"dependencies"`
	GeneratedAt  time.Time                   `json:"generatedAt"`
}
