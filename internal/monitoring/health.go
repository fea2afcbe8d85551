package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check response
type HealthCheck struct {
	Status         HealthStatus     `json:"status"`
	Version        string           `json:"version"`
	MemoryUsageMB  uint64           `json:"memory_usage_mb"`
	DatabaseStatus string           `json:"database_status"`
	Checks         map[string]Check `json:"checks"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Dependency is a named check. Required dependencies make the result
// unhealthy when they fail; optional ones only degrade it.
type Dependency struct {
	Name     string
	Required bool
	Run      func(ctx context.Context) (string, error)
}

// HealthChecker performs health checks
type HealthChecker struct {
	version string
	db      *sql.DB
	deps    []Dependency
}

// NewHealthChecker creates a new health checker. db may be nil when history is disabled.
func NewHealthChecker(version string, db *sql.DB, deps ...Dependency) *HealthChecker {
	return &HealthChecker{
		version: version,
		db:      db,
		deps:    deps,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(ctx context.Context) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	degrade := func(to HealthStatus) {
		if to == HealthStatusUnhealthy || overallStatus == HealthStatusHealthy {
			overallStatus = to
		}
	}

	for _, p := range h.deps {
		msg, err := p.Run(ctx)
		if err == nil {
			checks[p.Name] = Check{Status: "healthy", Message: msg}
			continue
		}
		if p.Required {
			checks[p.Name] = Check{Status: "unhealthy", Message: err.Error()}
			degrade(HealthStatusUnhealthy)
		} else {
			checks[p.Name] = Check{Status: "degraded", Message: err.Error()}
			degrade(HealthStatusDegraded)
		}
	}

	dbStatus := "disabled"
	if h.db != nil {
		dbCheck := h.checkDatabase(ctx)
		checks["database"] = dbCheck
		dbStatus = "connected"
		if dbCheck.Status != "healthy" {
			dbStatus = "disconnected"
			degrade(HealthStatusDegraded)
		}
	}

	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	switch memCheck.Status {
	case "unhealthy":
		degrade(HealthStatusUnhealthy)
	case "degraded":
		degrade(HealthStatusDegraded)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &HealthCheck{
		Status:         overallStatus,
		Version:        h.version,
		MemoryUsageMB:  m.Alloc / 1024 / 1024,
		DatabaseStatus: dbStatus,
		Checks:         checks,
		Timestamp:      time.Now(),
	}
}

// checkDatabase checks database connectivity
func (h *HealthChecker) checkDatabase(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "History database is reachable",
	}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 500
		criticalThresholdMB = 1000
	)

	if memoryMB > criticalThresholdMB {
		return Check{
			Status:  "unhealthy",
			Message: "Memory usage is critically high",
		}
	}

	if memoryMB > warningThresholdMB {
		return Check{
			Status:  "degraded",
			Message: "Memory usage is elevated",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Memory usage is normal",
	}
}

// FormatDuration formats a duration into a short human-readable string
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
