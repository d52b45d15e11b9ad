package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyProbe pings one backing service during readiness checks. A failing probe fails readiness
// unless it is Optional, in which case the report is only degraded.
type DependencyProbe struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Ping     func(context.Context) error
}

type probeHealthRepository struct {
	probes []DependencyProbe
	now    func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository builds a HealthRepository over the supplied probes.
func NewProbeHealthRepository(probes []DependencyProbe, clock func() time.Time) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	for _, p := range probes {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.New("health repository: probe missing name")
		}
		if p.Ping == nil {
			return nil, fmt.Errorf("health repository: probe %s missing ping", p.Name)
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &probeHealthRepository{probes: append([]DependencyProbe(nil), probes...), now: clock}, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make([]domain.DependencyHealth, len(r.probes))

	var wg sync.WaitGroup
	for i, probe := range r.probes {
		wg.Add(1)
		go func(i int, probe DependencyProbe) {
			defer wg.Done()
			results[i] = r.run(ctx, probe)
		}(i, probe)
	}
	wg.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.DependencyHealth, len(results)),
		GeneratedAt: r.now(),
	}
	for i, result := range results {
		report.Checks[r.probes[i].Name] = result
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

func (r *probeHealthRepository) run(ctx context.Context, probe DependencyProbe) domain.DependencyHealth {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Ping(probeCtx)
	end := r.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
	default:
		result.Status = domain.HealthStatusError
		result.Detail = err.Error()
	}
	if err != nil && probe.Optional {
		result.Status = domain.HealthStatusDegraded
	}
	return result
}
