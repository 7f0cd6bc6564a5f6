package health

import (
	"sort"
	"sync"
	"time"
)

// Checker reports the current status of a component on demand
type Checker func() Status

// Report is the body of the health endpoint. Status stays "ok" while the
// process is alive; Overall carries the aggregated component state.
type Report struct {
	Status     string            `json:"status"`
	Overall    string            `json:"overall"`
	Uptime     string            `json:"uptime"`
	Components map[string]Status `json:"components"`
}

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push a Status with Update or register a Checker that
// is called for every report.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
	started  time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
		started:  time.Now(),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Register adds a checker that is evaluated on every report
func (m *Monitor) Register(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = check
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	check, isChecker := m.checkers[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if isChecker {
		return m.evaluate(name, check), true
	}
	return status, exists
}

// GetAll returns the current status of every component
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	result := make(map[string]Status, len(m.statuses)+len(m.checkers))
	for name, status := range m.statuses {
		result[name] = status
	}
	checkers := make(map[string]Checker, len(m.checkers))
	for name, check := range m.checkers {
		checkers[name] = check
	}
	m.mu.RUnlock()

	// Checkers run without the lock; they may take their own.
	for name, check := range checkers {
		result[name] = m.evaluate(name, check)
	}
	return result
}

func (m *Monitor) evaluate(name string, check Checker) Status {
	status := check()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}

// Report builds the health endpoint body
func (m *Monitor) Report() Report {
	components := m.GetAll()
	return Report{
		Status:     "ok",
		Overall:    Aggregate(components),
		Uptime:     time.Since(m.started).Round(time.Second).String(),
		Components: components,
	}
}

// ListComponents returns the sorted names of all monitored components
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.checkers))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.checkers {
		if _, dup := m.statuses[name]; !dup {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.checkers, name)
}
