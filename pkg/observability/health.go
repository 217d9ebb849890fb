package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const defaultCheckTimeout = 5 * time.Second

// HealthCheck is one dependency probe. A failing critical check makes the
// service unhealthy; any other failure only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// CheckStatus is the outcome of one HealthCheck.
type CheckStatus struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// HealthResponse is the body served on /health.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
}

var (
	startTime = time.Now()
	version   = "dev"
)

// SetVersion sets the version reported by the health endpoint.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// HealthChecker runs the registered checks and remembers the last result
// so readiness probes can answer without touching storage.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]*HealthCheck
	last   *HealthResponse
}

// NewHealthChecker creates an empty checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]*HealthCheck),
	}
}

// RegisterCheck adds check, replacing any check with the same name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = defaultCheckTimeout
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Check runs every registered check concurrently.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	hc.mu.RUnlock()

	results := make([]CheckStatus, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(startTime),
		Checks:    make(map[string]CheckStatus, len(checks)),
	}
	for i, c := range checks {
		st := results[i]
		resp.Checks[c.Name] = st
		SetHealthCheck(c.Name, st.Status == HealthStatusHealthy)

		switch {
		case st.Status == HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case st.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}
	}

	hc.mu.Lock()
	hc.last = &resp
	hc.mu.Unlock()
	return resp
}

// Last returns the most recent result of Check, or false if no check has
// run yet.
func (hc *HealthChecker) Last() (HealthResponse, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if hc.last == nil {
		return HealthResponse{}, false
	}
	return *hc.last, true
}

// runCheck bounds c by its timeout even when CheckFunc ignores ctx.
func runCheck(ctx context.Context, c *HealthCheck) CheckStatus {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- c.CheckFunc(checkCtx) }()

	var err error
	select {
	case err = <-errc:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	st := CheckStatus{
		Status:      HealthStatusHealthy,
		Message:     "OK",
		LastChecked: time.Now(),
		Duration:    time.Since(start).String(),
	}
	if err != nil {
		st.Status = HealthStatusDegraded
		if c.Critical {
			st.Status = HealthStatusUnhealthy
		}
		st.Message = err.Error()
	}
	return st
}

func writeStatus(w http.ResponseWriter, healthy bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler runs the checks and reports them. A degraded service still
// answers 200.
func HealthHandler(checker *HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checker.Check(r.Context())
		writeStatus(w, resp.Status != HealthStatusUnhealthy, resp)
	}
}

// LivenessHandler always reports the process as alive.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, true, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler answers from the last scheduled check when one exists.
// Only a fully healthy service is ready.
func ReadinessHandler(checker *HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, ok := checker.Last()
		if !ok {
			resp = checker.Check(r.Context())
		}
		if resp.Status == HealthStatusHealthy {
			writeStatus(w, true, map[string]string{"status": "ready"})
			return
		}
		writeStatus(w, false, map[string]string{"status": "not ready"})
	}
}

// PingCheck always passes. It keeps /health meaningful with no backends.
func PingCheck() *HealthCheck {
	return &HealthCheck{
		Name:      "ping",
		CheckFunc: func(context.Context) error { return nil },
		Timeout:   time.Second,
	}
}

// StorageCheck creates a critical check against the session backend.
func StorageCheck(backend string, ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "storage:" + backend,
		CheckFunc: ping,
		Critical:  true,
	}
}

// ExternalServiceCheck creates a non-critical check, used for the
// classifier upstream.
func ExternalServiceCheck(name string, check func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      name,
		CheckFunc: check,
		Timeout:   10 * time.Second,
	}
}
