package resources

import (
	"sync"
	"time"

	"github.com/chative-core/workflow/internal/agent/model"
	errx "github.com/chative-core/workflow/internal/core/error"
	logx "github.com/chative-core/workflow/pkg/logger"
)

// Delta is an increment applied to a run's usage.
type Delta struct {
	Tokens   int
	MemoryMB float64
	Steps    int
	Errors   int
}

// Manager tracks per-run resource usage and per-user concurrency.
// It is the only state shared between concurrent runs and is safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	runs    map[string]*model.WorkflowResourceUsage
	perUser map[string]int

	metrics *Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		runs:    map[string]*model.WorkflowResourceUsage{},
		perUser: map[string]int{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Admit registers a run when the user is below limits.MaxConcurrent.
func (m *Manager) Admit(runID, userID string, limits model.WorkflowLimits) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.perUser[userID]
	if active >= limits.MaxConcurrent {
		if m.metrics != nil {
			m.metrics.Admissions.WithLabelValues("rejected").Inc()
		}
		logx.Warn().
			Str("run_id", runID).
			Str("user_id", userID).
			Int("active", active).
			Int("max_concurrent", limits.MaxConcurrent).
			Msg("Workflow admission rejected")
		return errx.AdmissionRejected(userID, active, limits.MaxConcurrent)
	}
	if _, exists := m.runs[runID]; exists {
		return errx.GraphFailed("duplicate run id "+runID, nil)
	}

	m.runs[runID] = &model.WorkflowResourceUsage{
		RunID:     runID,
		UserID:    userID,
		StartTime: m.now(),
	}
	m.perUser[userID] = active + 1

	if m.metrics != nil {
		m.metrics.Admissions.WithLabelValues("admitted").Inc()
		m.metrics.ActiveWorkflows.Inc()
	}
	return nil
}

// Release removes the run and returns its final usage. The second return is
// false when the run was not tracked, so double releases are harmless.
func (m *Manager) Release(runID, userID string) (model.WorkflowResourceUsage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.runs[runID]
	if !ok {
		return model.WorkflowResourceUsage{}, false
	}
	delete(m.runs, runID)

	owner := u.UserID
	if owner == "" {
		owner = userID
	}
	if n := m.perUser[owner] - 1; n > 0 {
		m.perUser[owner] = n
	} else {
		delete(m.perUser, owner)
	}

	if m.metrics != nil {
		m.metrics.ActiveWorkflows.Dec()
		m.metrics.RunDuration.Observe(m.now().Sub(u.StartTime).Seconds())
	}
	return *u, true
}

// Record accumulates d into the run's usage. Untracked runs are ignored.
func (m *Manager) Record(runID string, d Delta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.runs[runID]
	if !ok {
		return
	}
	u.TokensUsed += d.Tokens
	u.MemoryUsedMB += d.MemoryMB
	if u.MemoryUsedMB < 0 {
		u.MemoryUsedMB = 0
	}
	u.StepsCompleted += d.Steps
	u.ErrorsCount += d.Errors

	if m.metrics != nil {
		if d.Tokens > 0 {
			m.metrics.TokensUsed.Add(float64(d.Tokens))
		}
		if d.Steps > 0 {
			m.metrics.StepsCompleted.Add(float64(d.Steps))
		}
	}
}

// Check compares the run's elapsed time and usage against limits.
// Untracked runs always pass.
func (m *Manager) Check(runID string, limits model.WorkflowLimits) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.runs[runID]
	if !ok {
		return nil
	}

	var err error
	var limit string
	switch {
	case m.now().Sub(u.StartTime) > limits.ExecutionTimeout:
		limit = errx.LimitExecutionTimeout
		err = errx.Timeout(errx.KindExecutionTimeout, limit, nil)
	case u.TokensUsed > limits.MaxTokens:
		limit = errx.LimitMaxTokens
		err = errx.LimitExceeded(errx.KindTokenLimitExceeded, limit, float64(u.TokensUsed), float64(limits.MaxTokens))
	case u.MemoryUsedMB > float64(limits.MaxMemoryMB):
		limit = errx.LimitMaxMemory
		err = errx.LimitExceeded(errx.KindMemoryLimitExceeded, limit, u.MemoryUsedMB, float64(limits.MaxMemoryMB))
	}
	if err != nil && m.metrics != nil {
		m.metrics.LimitViolations.WithLabelValues(limit).Inc()
	}
	return err
}

// Usage returns a copy of the run's current usage.
func (m *Manager) Usage(runID string) (model.WorkflowResourceUsage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.runs[runID]
	if !ok {
		return model.WorkflowResourceUsage{}, false
	}
	return *u, true
}

// ActiveRuns returns the number of tracked runs for userID.
func (m *Manager) ActiveRuns(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perUser[userID]
}
