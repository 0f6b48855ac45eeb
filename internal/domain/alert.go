package domain

import (
	"time"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for filtering (critical highest).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Alert is emitted when a decision crosses the alert threshold.
// Alerts are never mutated after creation.
type Alert struct {
	ID          string    `json:"id"`
	EntityKey   string    `json:"entityKey"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	TxID        string    `json:"txId"`
}

// AlertFilter selects alerts from the sink. Zero values match everything.
type AlertFilter struct {
	EntityKey   string   `json:"entityKey,omitempty"`
	MinSeverity Severity `json:"minSeverity,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// Matches reports whether the alert passes the filter.
func (f AlertFilter) Matches(a *Alert) bool {
	if f.EntityKey != "" && a.EntityKey != f.EntityKey {
		return false
	}
	if f.MinSeverity != "" && a.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	return true
}
