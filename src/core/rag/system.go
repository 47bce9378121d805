package rag

import (
	"context"
	"sort"
)

type ComponentStatus string

const (
	StatusUp   ComponentStatus = "up"
	StatusDown ComponentStatus = "down"
)

type HealthStatus struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
}

// HealthCheck returns nil when the component is reachable.
type HealthCheck func(ctx context.Context) error

type SystemService struct {
	checks map[string]HealthCheck
}

func NewSystemService(checks map[string]HealthCheck) *SystemService {
	return &SystemService{checks: checks}
}

func (s *SystemService) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{
		Status:     "healthy",
		Components: make(map[string]ComponentStatus, len(s.checks)),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			status.Components[name] = StatusDown
			status.Status = "unhealthy"
			continue
		}
		status.Components[name] = StatusUp
	}

	return status, nil
}
