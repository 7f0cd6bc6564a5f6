package health

import "time"

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate returns the overall state of statuses:
// unhealthy if any is unhealthy, otherwise degraded if any is degraded,
// otherwise healthy.
func Aggregate(statuses map[string]Status) string {
	overall := StatusHealthy
	for _, s := range statuses {
		switch {
		case s.IsUnhealthy():
			return StatusUnhealthy
		case s.IsDegraded():
			overall = StatusDegraded
		}
	}
	return overall
}
