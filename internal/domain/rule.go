package domain

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "notContains"
	OpRegex          Operator = "regex"
	OpGreaterThan    Operator = "greaterThan"
	OpLessThan       Operator = "lessThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpInList         Operator = "inList"
)

// ValueType is the declared type of a condition literal.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeDate    ValueType = "date"
	TypeBoolean ValueType = "boolean"
)

// Action is the outcome a rule or assessment requests for a transaction.
type Action string

const (
	ActionApprove Action = "approve"
	ActionLog     Action = "log"
	ActionFlag    Action = "flag"
	ActionReview  Action = "review"
	ActionBlock   Action = "block"
)

// Severity returns the total ordering of actions:
// block > review > flag > log > approve.
func (a Action) Severity() int {
	switch a {
	case ActionBlock:
		return 4
	case ActionReview:
		return 3
	case ActionFlag:
		return 2
	case ActionLog:
		return 1
	default:
		return 0
	}
}

// MoreSevere returns the more severe of two actions.
func MoreSevere(a, b Action) Action {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Condition is one typed comparison against a transaction field.
// Field names and enum values are the wire contract for rule documents.
type Condition struct {
	Field    string    `json:"field"`
	Operator Operator  `json:"operator"`
	Value    string    `json:"value"`
	Type     ValueType `json:"type"`
}

// Rule defines a fraud detection rule configuration.
// Rules are read-only on the hot path; mutation happens out of band and
// becomes visible only to snapshots taken after the mutation returns.
type Rule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`

	// Higher priority evaluates first; ties break by insertion order.
	Priority int  `json:"priority"`
	IsActive bool `json:"isActive"`

	Conditions []Condition `json:"conditions"`
	Action     Action      `json:"action"`

	// Optional CEL expression evaluated alongside the typed conditions.
	// A non-empty expression that evaluates true counts as one matched
	// condition.
	Expression string `json:"expression,omitempty"`
}

// RuleOutcome records one triggered rule with its partial score and the
// human-readable reasons for the audit trail.
type RuleOutcome struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName"`
	Action   Action   `json:"action"`
	Score    float64  `json:"score"` // fraction of conditions that matched
	Reasons  []string `json:"reasons"`
}

// RuleEvaluationResult is the output of evaluating the active rule set
// against one transaction.
type RuleEvaluationResult struct {
	Triggered   []RuleOutcome `json:"triggeredRules"`
	FinalAction Action        `json:"finalAction"`
}
