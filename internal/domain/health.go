package domain

import "time"

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyHealth is the outcome of probing one storage or messaging dependency.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for the readiness endpoint.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	GeneratedAt time.Time
}
