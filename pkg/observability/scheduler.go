package observability

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRefreshSchedule is the cron spec used when none is configured.
const DefaultRefreshSchedule = "@every 30s"

// Scheduler periodically runs the health checks and refreshes the runtime
// gauges, so readiness probes answer from a recent result.
type Scheduler struct {
	checker *HealthChecker
	spec    string
	timeout time.Duration

	cron *cron.Cron

	mu         sync.Mutex
	lastStatus HealthStatus
}

// NewScheduler creates a scheduler for checker. An empty spec falls back to
// DefaultRefreshSchedule.
func NewScheduler(checker *HealthChecker, spec string) *Scheduler {
	if spec == "" {
		spec = DefaultRefreshSchedule
	}
	return &Scheduler{
		checker: checker,
		spec:    spec,
		timeout: 15 * time.Second,
		cron:    cron.New(),
	}
}

// Start registers the refresh job, runs it once immediately and starts the
// cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.Refresh); err != nil {
		return fmt.Errorf("invalid health refresh schedule %q: %w", s.spec, err)
	}
	s.Refresh()
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running refresh to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh runs one round of checks. Status transitions are logged.
func (s *Scheduler) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resp := s.checker.Check(ctx)
	UpdateRuntimeMetrics()

	s.mu.Lock()
	prev := s.lastStatus
	s.lastStatus = resp.Status
	s.mu.Unlock()

	if prev == resp.Status {
		return
	}
	if resp.Status == HealthStatusHealthy {
		if prev != "" {
			log.Printf("[Health] Status recovered: %s -> %s", prev, resp.Status)
		}
		return
	}
	for name, c := range resp.Checks {
		if c.Status != HealthStatusHealthy {
			log.Printf("[Health] WARNING: check %s is %s: %s", name, c.Status, c.Message)
		}
	}
}

// Status returns the status seen by the last refresh.
func (s *Scheduler) Status() HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// UpdateRuntimeMetrics samples goroutine and heap gauges.
func UpdateRuntimeMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	SetMemoryUsage(m.Alloc)
	SetGoroutines(runtime.NumGoroutine())
}
