package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck probes one backing service during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthRepository reports the readiness of backing services.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

type dependencyHealthRepository struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewDependencyHealthRepository runs checks concurrently on every Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, clock func() time.Time) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" || check.Check == nil {
			return nil, errors.New("health repository: every check needs a name and a function")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &dependencyHealthRepository{checks: append([]DependencyCheck(nil), checks...), now: clock}, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]domain.DependencyHealth, len(r.checks))
	)
	for _, check := range r.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			result := r.probe(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	report := domain.HealthReport{Status: domain.HealthStatusOK, Dependencies: results, GeneratedAt: r.now().UTC()}
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			report.Status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if report.Status == domain.HealthStatusOK {
				report.Status = domain.HealthStatusDegraded
			}
		}
	}
	return report, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(probeCtx)
	end := r.now()

	result := domain.DependencyHealth{Status: domain.HealthStatusOK, Latency: end.Sub(start), CheckedAt: end.UTC()}
	switch {
	case err == nil && probeCtx.Err() == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
	}
	return result
}
