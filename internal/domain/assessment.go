package domain

import (
	"time"
)

// EntitySnapshot is the aggregator's view of one entity after observing
// a transaction (counts include the observed transaction).
type EntitySnapshot struct {
	EntityKey        string        `json:"entityKey"`
	HourlyCount      int           `json:"hourlyCount"`
	MinuteCount      int           `json:"minuteCount"`
	DailyAmount      float64       `json:"dailyAmount"`
	SessionStart     time.Time     `json:"sessionStart"`
	SessionDuration  time.Duration `json:"sessionDuration"`
	LastActivity     time.Time     `json:"lastActivity"`
	TotalSpent       float64       `json:"totalSpent"`
	TransactionCount int64         `json:"transactionCount"`

	// DuplicateInWindow is true when an earlier transaction with the
	// same amount was observed for this entity inside the short
	// duplicate-detection window.
	DuplicateInWindow bool `json:"duplicateInWindow"`

	// PriorAlerts is the number of alerts previously emitted for this
	// entity, fed back into entity history risk.
	PriorAlerts int `json:"priorAlerts"`
}

// RiskFactor is one named, weighted contribution to the composite score.
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// FraudCheck is the separate fraud sub-assessment reported independently
// of the composite score.
type FraudCheck struct {
	IsFraudulent bool     `json:"isFraudulent"`
	Probability  float64  `json:"probability"`
	Reasons      []string `json:"reasons,omitempty"`
}

// RiskAssessment is the scorer's output for one transaction. The
// explanation is built deterministically from the factor lists.
type RiskAssessment struct {
	Score       float64      `json:"score"` // clamped to [0,1]
	Factors     []RiskFactor `json:"factors"`
	Mitigating  []string     `json:"mitigating,omitempty"`
	Action      Action       `json:"action"`
	Fraud       FraudCheck   `json:"fraud"`
	Explanation string       `json:"explanation"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// Decision is the terminal output of the pipeline for one transaction.
type Decision struct {
	ID        string            `json:"id"`
	TxID      string            `json:"txId"`
	TenantID  string            `json:"tenantId,omitempty"`
	EntityKey string            `json:"entityKey"`
	Status    TransactionStatus `json:"status"`
	Score     float64           `json:"score"`
	Action    Action            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`

	Assessment RiskAssessment       `json:"assessment"`
	RuleResult RuleEvaluationResult `json:"ruleResult"`
	Snapshot   EntitySnapshot       `json:"snapshot"`

	// Warnings records soft failures (degraded enrichment, aggregation
	// fallback) that did not stop the pipeline.
	Warnings []string `json:"warnings,omitempty"`

	Metadata DecisionMetadata `json:"metadata"`
}

// DecisionMetadata contains processing information.
type DecisionMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	EnrichMs      int64  `json:"enrichMs"`
	RulesMs       int64  `json:"rulesMs"`
	TotalMs       int64  `json:"totalMs"`
	RulesInSet    int    `json:"rulesInSet"`
	EngineVersion string `json:"engineVersion"`
}

// StatusForAction maps a decision action to the transaction status it
// implies. Flag and log keep the transaction approved but leave an audit
// trail; review and block are terminal holds.
func StatusForAction(a Action) TransactionStatus {
	switch a {
	case ActionBlock:
		return StatusBlocked
	case ActionReview:
		return StatusReview
	default:
		return StatusApproved
	}
}
