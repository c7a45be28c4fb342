package monitoring

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Monitor struct {
	mu             sync.Mutex
	logger         *slog.Logger
	lastRunSuccess bool
	lastRunTime    time.Time
	successes      int
	partials       int
	failures       int
	lastError      string
}

func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{logger: logger}
}

func (m *Monitor) RecordSuccess(summary string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRunSuccess = true
	m.lastRunTime = time.Now()
	m.successes++

	m.logger.Info("Run completed", slog.String("summary", summary), slog.Duration("took", duration))
}

// RecordPartialFailure notes a failure that leaves the service healthy,
// such as a shuffle rejected with a domain error.
func (m *Monitor) RecordPartialFailure(err error, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.partials++
	m.lastError = err.Error()
	m.logger.Warn("Partial failure", slog.Any("error", err), slog.Duration("took", duration))
}

func (m *Monitor) RecordCriticalFailure(err error, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRunSuccess = false
	m.lastRunTime = time.Now()
	m.failures++
	m.lastError = err.Error()

	m.logger.Error("Critical failure", slog.Any("error", err), slog.Duration("took", duration))
}

func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastRunTime.IsZero() {
		return true // No runs yet, assume healthy
	}
	return m.lastRunSuccess
}

func (m *Monitor) GetStatusSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastRunTime.IsZero() {
		return "No runs yet"
	}

	counts := fmt.Sprintf("%d ok, %d rejected, %d failed", m.successes, m.partials, m.failures)
	if m.lastRunSuccess {
		return fmt.Sprintf("Last run: %s (%s)", m.lastRunTime.Format("Jan 2 15:04"), counts)
	}
	return fmt.Sprintf("Last run failed: %s (%s): %s", m.lastRunTime.Format("Jan 2 15:04"), counts, m.lastError)
}
