package stage

import "context"

// Health summarizes the readiness of a collaborator a stage depends on.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// HealthChecker is implemented by collaborators that can report readiness
// before a job starts (writable workspace, reachable site, ...).
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
