package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of checking one dependency.
type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
	DurationMS  int64        `json:"duration_ms"`
}

// Version is reported by the health endpoint. Overridden at build time with -ldflags.
var Version = "0.1.0"

var startedAt = time.Now()

// HealthChecker runs registered dependency checks and caches each result
// for ttl.
type HealthChecker struct {
	mu     sync.Mutex
	checks map[string]HealthCheckFunc
	cache  map[string]*HealthCheck
	ttl    time.Duration
}

// HealthCheckFunc is a function that performs a health check
type HealthCheckFunc func(context.Context) *HealthCheck

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]HealthCheckFunc),
		cache:  make(map[string]*HealthCheck),
		ttl:    5 * time.Second,
	}
}

// Register registers a health check
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	delete(hc.cache, name)
}

// Check returns every check's result. Stale checks run concurrently.
func (hc *HealthChecker) Check(ctx context.Context) map[string]*HealthCheck {
	now := time.Now()
	results := make(map[string]*HealthCheck)
	stale := make(map[string]HealthCheckFunc)

	hc.mu.Lock()
	for name, check := range hc.checks {
		if cached, ok := hc.cache[name]; ok && now.Sub(cached.LastChecked) < hc.ttl {
			results[name] = cached
			continue
		}
		stale[name] = check
	}
	hc.mu.Unlock()

	if len(stale) == 0 {
		return results
	}

	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range stale {
		g.Go(func() error {
			result := check(ctx)
			if result == nil {
				result = &HealthCheck{Status: HealthStatusUnhealthy, Message: "check returned no result"}
			}
			result.Name = name
			result.LastChecked = time.Now()
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	hc.mu.Lock()
	for name := range stale {
		hc.cache[name] = results[name]
	}
	hc.mu.Unlock()

	return results
}

// GetOverallStatus determines the overall health status
func (hc *HealthChecker) GetOverallStatus(ctx context.Context) HealthStatus {
	return overallStatus(hc.Check(ctx))
}

var statusRank = map[HealthStatus]int{
	HealthStatusHealthy:   0,
	HealthStatusDegraded:  1,
	HealthStatusUnhealthy: 2,
}

// overallStatus is the worst status among checks.
func overallStatus(checks map[string]*HealthCheck) HealthStatus {
	overall := HealthStatusHealthy
	for _, check := range checks {
		if statusRank[check.Status] > statusRank[overall] {
			overall = check.Status
		}
	}
	return overall
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*HealthCheck `json:"checks"`
	Metadata  map[string]interface{}  `json:"metadata,omitempty"`
}

// GetHealthResponse returns a complete health response
func (hc *HealthChecker) GetHealthResponse(ctx context.Context) *HealthResponse {
	checks := hc.Check(ctx)

	return &HealthResponse{
		Status:    overallStatus(checks),
		Timestamp: time.Now(),
		Checks:    checks,
		Metadata: map[string]interface{}{
			"version":        Version,
			"service":        "query-gateway",
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		},
	}
}

// pingCheck runs ping under timeout. A failure reports failStatus, which
// says how much of the gateway is lost without the dependency.
func pingCheck(label string, timeout time.Duration, failStatus HealthStatus, ping func(context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := ping(ctx)
		check := &HealthCheck{
			Status:     HealthStatusHealthy,
			Message:    label + " available",
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			check.Status = failStatus
			check.Message = fmt.Sprintf("%s unavailable: %v", label, err)
		}
		return check
	}
}

// DatabaseHealthCheck checks the target database. Without it no question can be answered.
func DatabaseHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("Target database", 2*time.Second, HealthStatusUnhealthy, ping)
}

// CacheStoreHealthCheck checks the semantic cache store. A failing cache
// only turns every lookup into a miss.
func CacheStoreHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("Cache store", 2*time.Second, HealthStatusDegraded, ping)
}

// RedisHealthCheck checks the conversation context backend. Without it
// questions resolve without follow-up hints.
func RedisHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("Redis", 2*time.Second, HealthStatusDegraded, ping)
}

// LLMHealthCheck checks the generation service. Cached questions still resolve when it is down.
func LLMHealthCheck(ping func(context.Context) error) HealthCheckFunc {
	return pingCheck("LLM service", 5*time.Second, HealthStatusDegraded, ping)
}
