// Package health provides health states for engine subsystems and their
// aggregation into one system-level report.
package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the health level of a subsystem or the whole engine.
type State string

// Health states, ordered from best to worst.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Worse returns the worse of two states.
func Worse(a, b State) State {
	rank := func(s State) int {
		switch s {
		case StateUnhealthy:
			return 2
		case StateDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Status represents the health of one subsystem at a point in time.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message"`
	Issues      []string  `json:"issues,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries health-adjacent counters for a subsystem.
type Metrics struct {
	Uptime          time.Duration `json:"uptime"`
	ErrorCount      int64         `json:"error_count"`
	EventsProcessed int64         `json:"events_processed,omitempty"`
	LastActivity    time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy returns true if the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithIssues returns a copy of the status with the issue list attached.
func (s Status) WithIssues(issues ...string) Status {
	s.Issues = append([]string(nil), issues...)
	return s
}

// NewHealthy creates a new healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a new degraded status.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromError builds a status from an error, sanitizing the message so
// transport errors can't leak endpoints or credentials into health output.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "OK")
	}
	return NewUnhealthy(component, SanitizeMessage(err.Error()))
}

// Aggregate combines sub-statuses into one status. Any unhealthy
// sub-status makes the aggregate unhealthy; otherwise any degraded one
// makes it degraded. Issues from all sub-statuses are collected in order.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	state := StateHealthy
	var issues []string
	for _, sub := range subStatuses {
		state = Worse(state, sub.Status)
		issues = append(issues, sub.Issues...)
		if !sub.IsHealthy() && sub.Message != "" {
			issues = append(issues, sub.Component+": "+sub.Message)
		}
	}

	var status Status
	switch state {
	case StateUnhealthy:
		status = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case StateDegraded:
		status = NewDegraded(component, "One or more sub-components are degraded")
	default:
		status = NewHealthy(component, "All sub-components are healthy")
	}

	status.Issues = issues
	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://\S+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// SanitizeMessage strips URLs, paths, addresses, and credential-looking
// fragments from a message before it is exposed through health endpoints.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(msg, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}
