package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a probe.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

const defaultProbeTimeout = 2 * time.Second

// Result is a single probe outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report aggregates every probe. The worst status wins.
type Report struct {
	Status Status   `json:"status"`
	Checks []Result `json:"checks"`
}

// Healthy reports whether the service can take traffic. Degraded still counts.
func (r Report) Healthy() bool {
	return r.Status != StatusDown
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) Result
}

// Manager runs registered checks concurrently, each under its own timeout.
type Manager struct {
	mu      sync.RWMutex
	checks  []Check
	timeout time.Duration
}

// NewManager builds a manager. A non-positive timeout uses two seconds.
func NewManager(timeout time.Duration, checks ...Check) *Manager {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	m := &Manager{timeout: timeout}
	for _, check := range checks {
		m.Register(check)
	}
	return m
}

// Register appends a check. Unnamed checks are ignored.
func (m *Manager) Register(check Check) {
	if check.Name == "" || check.Run == nil {
		return
	}
	m.mu.Lock()
	m.checks = append(m.checks, check)
	m.mu.Unlock()
}

// Evaluate runs every check and returns results in registration order.
func (m *Manager) Evaluate(ctx context.Context) Report {
	m.mu.RLock()
	checks := append([]Check(nil), m.checks...)
	m.mu.RUnlock()

	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = m.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusUp, Checks: results}
	for _, r := range results {
		report.Status = worse(report.Status, r.Status)
	}
	return report
}

func (m *Manager) run(ctx context.Context, check Check) (result Result) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Status: StatusDown, Details: fmt.Sprint(rec)}
		}
		result.Component = check.Name
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
	}()

	return check.Run(ctx)
}

// FromError maps err to a result. Timeouts are degraded, other failures down.
func FromError(err error) Result {
	if err == nil {
		return Result{Status: StatusUp}
	}
	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return Result{Status: status, Details: err.Error()}
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUp:
			return 0
		case StatusDegraded:
			return 1
		default:
			return 2
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
