// Package health serves liveness, readiness and dependency probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const probeTimeout = 2 * time.Second

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// PingFunc reports whether one backing service is reachable
type PingFunc func(ctx context.Context) error

// Checker aggregates dependency probes. Probes run concurrently on every
// /health request, each bounded by probeTimeout.
type Checker struct {
	mu      sync.RWMutex
	probes  map[string]PingFunc
	version string
	started time.Time
	ready   atomic.Bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		probes:  make(map[string]PingFunc),
		version: version,
		started: time.Now(),
	}
}

// AddCheck registers or replaces the probe for name.
func (c *Checker) AddCheck(name string, ping PingFunc) {
	c.mu.Lock()
	c.probes[name] = ping
	c.mu.Unlock()
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/health")
	g.GET("", c.Health)
	g.GET("/live", c.Live)
	g.GET("/ready", c.Ready)
}

type HealthStatus struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Checks     map[string]CheckResult `json:"checks"`
	ReportedAt time.Time              `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

func (c *Checker) Health(ctx echo.Context) error {
	checks := c.probe(ctx.Request().Context())

	report := HealthStatus{
		Status:     statusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now().UTC(),
	}
	for _, check := range checks {
		if check.Status != statusHealthy {
			report.Status = statusUnhealthy
		}
	}

	code := http.StatusOK
	if report.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, report)
}

func (c *Checker) probe(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	probes := make(map[string]PingFunc, len(c.probes))
	for name, ping := range c.probes {
		probes[name] = ping
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(probes))
	)
	for name, ping := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			result := CheckResult{Status: statusHealthy}
			if err := ping(pingCtx); err != nil {
				result = CheckResult{Status: statusUnhealthy, Message: err.Error()}
			} else {
				result.Latency = time.Since(start).String()
			}

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Live answers as long as the process serves HTTP.
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready is 503 until startup completes and again during shutdown.
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
