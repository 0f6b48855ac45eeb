package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-risk/kestrel/internal/domain"
)

// Engine holds the active rule set. The hot path never reads the engine
// directly; it takes a Snapshot at pipeline start so concurrent rule
// mutation is never visible mid-evaluation.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*CompiledRule
	seq   int // insertion order, breaks priority ties
}

// CompiledRule pairs a rule with its pre-compiled CEL program (nil when
// the rule has no expression).
type CompiledRule struct {
	Rule    *domain.Rule
	Program cel.Program
	seq     int
}

// NewEngine creates a new rule engine.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("city", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("card_bin", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("player_id", cel.StringType),
		cel.Variable("user_agent", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:   env,
		rules: make(map[string]*CompiledRule),
	}, nil
}

// checkRule rejects structurally invalid rules before compilation.
func checkRule(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}
	if len(rule.Conditions) == 0 && rule.Expression == "" {
		return fmt.Errorf("%w: rule %s has no conditions or expression", domain.ErrInvalidInput, rule.ID)
	}
	return nil
}

// Upsert compiles and loads one rule. Takes effect for snapshots created
// after the call returns. The rule compiles exactly once, under the
// write lock; a failed compile leaves the loaded set unchanged.
func (e *Engine) Upsert(rule *domain.Rule) error {
	if err := checkRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}

	if existing, ok := e.rules[rule.ID]; ok {
		compiled.seq = existing.seq // update keeps original load order
	} else {
		compiled.seq = e.seq
		e.seq++
	}
	e.rules[rule.ID] = compiled
	return nil
}

// Load replaces the active rule set wholesale (startup load from the
// versioned config source). Insertion order follows slice order.
func (e *Engine) Load(rules []*domain.Rule) error {
	compiled := make(map[string]*CompiledRule, len(rules))
	seq := 0
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		c, err := e.compile(rule)
		if err != nil {
			return err
		}
		c.seq = seq
		seq++
		compiled[rule.ID] = c
	}

	e.mu.Lock()
	e.rules = compiled
	e.seq = seq
	e.mu.Unlock()
	return nil
}

// Delete removes a rule from the active set.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(e.rules, id)
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the currently loaded rule configurations in
// evaluation order.
func (e *Engine) GetLoadedRules() []*domain.Rule {
	snap := e.Snapshot()
	out := make([]*domain.Rule, len(snap.rules))
	for i, c := range snap.rules {
		out[i] = c.Rule
	}
	return out
}

// Snapshot returns an immutable view of the active rule set ordered by
// descending priority, stable on ties by original load order.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.rules))
	for _, c := range e.rules {
		if c.Rule.IsActive {
			rules = append(rules, c)
		}
	}
	e.mu.RUnlock()

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Rule.Priority != rules[j].Rule.Priority {
			return rules[i].Rule.Priority > rules[j].Rule.Priority
		}
		return rules[i].seq < rules[j].seq
	})

	return &Snapshot{rules: rules}
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compile(rule *domain.Rule) (*CompiledRule, error) {
	compiled := &CompiledRule{Rule: rule}
	if rule.Expression == "" {
		return compiled, nil
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}
	compiled.Program = program
	return compiled, nil
}

// Snapshot is an immutable rule set taken at pipeline start for one
// transaction.
type Snapshot struct {
	rules []*CompiledRule
}

// Len returns the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Evaluate runs every rule in priority order against the transaction.
// A rule triggers when any of its conditions matches (OR semantics);
// the per-rule score is the fraction of conditions that matched. The
// final action is the most severe among triggered rules, defaulting to
// approve.
func (s *Snapshot) Evaluate(tx *domain.Transaction) domain.RuleEvaluationResult {
	result := domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}

	for _, c := range s.rules {
		outcome, triggered := evaluateRule(c, tx)
		if !triggered {
			continue
		}
		result.Triggered = append(result.Triggered, outcome)
		result.FinalAction = domain.MoreSevere(result.FinalAction, outcome.Action)
	}

	return result
}

func evaluateRule(c *CompiledRule, tx *domain.Transaction) (domain.RuleOutcome, bool) {
	rule := c.Rule
	total := len(rule.Conditions)
	matched := 0
	var reasons []string

	for _, cond := range rule.Conditions {
		if EvaluateCondition(cond, tx) {
			matched++
			reasons = append(reasons, fmt.Sprintf("%s %s %s", cond.Field, cond.Operator, cond.Value))
		}
	}

	if c.Program != nil {
		total++
		if evalExpression(c, tx) {
			matched++
			reasons = append(reasons, "expression matched")
		}
	}

	if matched == 0 || total == 0 {
		return domain.RuleOutcome{}, false
	}

	return domain.RuleOutcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Action:   rule.Action,
		Score:    float64(matched) / float64(total),
		Reasons:  reasons,
	}, true
}

// evalExpression runs the rule's CEL program. Evaluation errors are
// isolated to the expression (treated as non-match) and logged.
func evalExpression(c *CompiledRule, tx *domain.Transaction) bool {
	activation := map[string]any{
		"tx": map[string]any{
			"id":         tx.ID,
			"amount":     tx.Amount,
			"currency":   tx.Currency,
			"card_bin":   tx.CardBIN,
			"session_id": tx.SessionID,
			"player_id":  tx.PlayerID,
			"country":    tx.Country,
			"city":       tx.City,
			"ip":         tx.IP,
		},
		"amount":     tx.Amount,
		"currency":   tx.Currency,
		"country":    tx.Country,
		"city":       tx.City,
		"ip":         tx.IP,
		"card_bin":   tx.CardBIN,
		"session_id": tx.SessionID,
		"player_id":  tx.PlayerID,
		"user_agent": tx.UserAgent,
	}

	out, _, err := c.Program.Eval(activation)
	if err != nil {
		slog.Warn("rule expression evaluation failed",
			"rule_id", c.Rule.ID,
			"error", err,
		)
		return false
	}
	return toBool(out)
}

func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}
