package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-risk/kestrel/internal/domain"
)

var noon = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testScoringConfig() domain.ScoringConfig {
	cfg := domain.DefaultScoringConfig()
	cfg.HighRiskCountries = []string{"KP", "IR"}
	return cfg
}

func hasFactor(a domain.RiskAssessment, name string) bool {
	for _, f := range a.Factors {
		if f.Name == name {
			return true
		}
	}
	return false
}

func hasMitigating(a domain.RiskAssessment, name string) bool {
	for _, m := range a.Mitigating {
		if m == name {
			return true
		}
	}
	return false
}

func TestScoreCleanTransaction(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	tx := &domain.Transaction{ID: "tx", Amount: 100, Country: "US", PlayerID: "p1"}

	a := scorer.Score(tx, domain.EntitySnapshot{HourlyCount: 1, MinuteCount: 1}, domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}, domain.Enrichment{}, noon)

	if a.Score != 0 {
		t.Errorf("expected score 0 for clean transaction, got %v", a.Score)
	}
	if a.Action != domain.ActionApprove {
		t.Errorf("expected approve, got %s", a.Action)
	}
	for _, want := range []string{"amount_within_limits", "velocity_within_limits", "home_country"} {
		if !hasMitigating(a, want) {
			t.Errorf("expected mitigating factor %s, got %v", want, a.Mitigating)
		}
	}
	if a.Fraud.IsFraudulent || a.Fraud.Probability != 0 {
		t.Errorf("unexpected fraud signal: %+v", a.Fraud)
	}
}

func TestScoreAmount(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	approved := domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}

	t.Run("OverCapForcesReview", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 150000, Country: "US", PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{}, approved, domain.Enrichment{}, noon)

		if !hasFactor(a, "amount_exceeds_cap") {
			t.Error("expected amount_exceeds_cap factor")
		}
		if a.Score != 0.4 {
			t.Errorf("expected score 0.4, got %v", a.Score)
		}
		// 0.4 does not cross the flag threshold, but over-cap amounts
		// must still land in review.
		if a.Action != domain.ActionReview {
			t.Errorf("expected forced review, got %s", a.Action)
		}
	})

	t.Run("AboveHalfCap", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 60000, Country: "US", PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{}, approved, domain.Enrichment{}, noon)

		if !hasFactor(a, "amount_above_half_cap") {
			t.Error("expected amount_above_half_cap factor")
		}
		if a.Score != 0.2 {
			t.Errorf("expected score 0.2, got %v", a.Score)
		}
		if a.Action != domain.ActionApprove {
			t.Errorf("expected approve below flag threshold, got %s", a.Action)
		}
	})
}

func TestScoreVelocityAndHistory(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	tx := &domain.Transaction{ID: "tx", Amount: 100, Country: "US", PlayerID: "p1"}
	approved := domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}

	t.Run("HourlyVelocity", func(t *testing.T) {
		snap := domain.EntitySnapshot{HourlyCount: 60}
		a := scorer.Score(tx, snap, approved, domain.Enrichment{}, noon)

		if !hasFactor(a, "hourly_velocity") {
			t.Error("expected hourly_velocity factor")
		}
		// Velocity over the limit also pushes the history level up.
		if !hasFactor(a, "entity_history") {
			t.Error("expected entity_history factor from velocity overage")
		}
	})

	t.Run("PriorAlertsCapAtThree", func(t *testing.T) {
		low := scorer.Score(tx, domain.EntitySnapshot{PriorAlerts: 1}, approved, domain.Enrichment{}, noon)
		high := scorer.Score(tx, domain.EntitySnapshot{PriorAlerts: 3}, approved, domain.Enrichment{}, noon)
		higher := scorer.Score(tx, domain.EntitySnapshot{PriorAlerts: 10}, approved, domain.Enrichment{}, noon)

		if low.Score >= high.Score {
			t.Errorf("expected more alerts to score higher: %v vs %v", low.Score, high.Score)
		}
		if high.Score != higher.Score {
			t.Errorf("expected alert contribution to cap at 3: %v vs %v", high.Score, higher.Score)
		}
	})

	t.Run("DailySpendRatio", func(t *testing.T) {
		snap := domain.EntitySnapshot{DailyAmount: 50000}
		a := scorer.Score(tx, snap, approved, domain.Enrichment{}, noon)

		// level = 0.5 * (50000/100000) = 0.25, weight 0.3 * 0.25
		if !hasFactor(a, "entity_history") {
			t.Fatal("expected entity_history factor")
		}
		want := 0.3 * 0.25
		if diff := a.Score - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected score %v, got %v", want, a.Score)
		}
	})
}

func TestScoreTemporal(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	tx := &domain.Transaction{ID: "tx", Amount: 100, Country: "US", PlayerID: "p1"}
	approved := domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}

	cases := []struct {
		name string
		hour int
		want bool
	}{
		{"EarlyMorning", 3, true},
		{"ElevenPM", 23, true},
		{"SixAM", 6, false},
		{"Noon", 12, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			at := time.Date(2025, 6, 15, tc.hour, 0, 0, 0, time.UTC)
			a := scorer.Score(tx, domain.EntitySnapshot{}, approved, domain.Enrichment{}, at)
			if hasFactor(a, "off_hours") != tc.want {
				t.Errorf("hour %d: expected off_hours=%v", tc.hour, tc.want)
			}
		})
	}
}

func TestScoreGeo(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	approved := domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}

	t.Run("HighRiskStacksOnForeign", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 100, Country: "KP", PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{}, approved, domain.Enrichment{}, noon)

		if !hasFactor(a, "foreign_country") || !hasFactor(a, "high_risk_country") {
			t.Fatalf("expected both geo factors, got %+v", a.Factors)
		}
		if diff := a.Score - 0.35; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("expected stacked geo score 0.35, got %v", a.Score)
		}
	})

	t.Run("EnrichmentFillsMissingCountry", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 100, PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{}, approved, domain.Enrichment{IPCountry: "BR"}, noon)

		if !hasFactor(a, "foreign_country") {
			t.Error("expected foreign_country from IP-derived country")
		}
	})

	t.Run("UnknownCountryIsNeutral", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 100, PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{}, approved, domain.Enrichment{}, noon)

		if hasFactor(a, "foreign_country") || hasMitigating(a, "home_country") {
			t.Error("expected unknown country to contribute nothing either way")
		}
	})

	t.Run("CaseInsensitiveHomeMatch", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 100, Country: "us", PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{}, approved, domain.Enrichment{}, noon)

		if !hasMitigating(a, "home_country") {
			t.Error("expected lowercase country to match home list")
		}
	})
}

func TestScoreBlacklist(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	tx := &domain.Transaction{ID: "tx", Amount: 100, Country: "US", PlayerID: "p1"}

	a := scorer.Score(tx, domain.EntitySnapshot{}, domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}, domain.Enrichment{Blacklisted: true}, noon)

	if !hasFactor(a, "blacklisted") {
		t.Error("expected blacklisted factor")
	}
	if a.Score != 0.3 {
		t.Errorf("expected score 0.3, got %v", a.Score)
	}
}

func TestScoreFraud(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	approved := domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}

	t.Run("DuplicateBlocks", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 500, Country: "US", PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{DuplicateInWindow: true}, approved, domain.Enrichment{}, noon)

		if !a.Fraud.IsFraudulent {
			t.Error("expected duplicate to mark fraud")
		}
		if a.Fraud.Probability != 0.85 {
			t.Errorf("expected probability 0.85, got %v", a.Fraud.Probability)
		}
		if a.Action != domain.ActionBlock {
			t.Errorf("expected block, got %s", a.Action)
		}
	})

	t.Run("MinuteVelocityRaisesProbability", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 500, Country: "US", PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{MinuteCount: 15}, approved, domain.Enrichment{}, noon)

		if a.Fraud.IsFraudulent {
			t.Error("minute velocity alone must not mark fraud")
		}
		if a.Fraud.Probability != 0.7 {
			t.Errorf("expected probability 0.7, got %v", a.Fraud.Probability)
		}
		if a.Action == domain.ActionBlock {
			t.Error("expected no block without the fraud flag")
		}
	})

	t.Run("BothSignalsKeepHigherProbability", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx", Amount: 500, Country: "US", PlayerID: "p1"}
		a := scorer.Score(tx, domain.EntitySnapshot{DuplicateInWindow: true, MinuteCount: 15}, approved, domain.Enrichment{}, noon)

		if a.Fraud.Probability != 0.85 {
			t.Errorf("expected probability 0.85, got %v", a.Fraud.Probability)
		}
		if len(a.Fraud.Reasons) != 2 {
			t.Errorf("expected both fraud reasons, got %v", a.Fraud.Reasons)
		}
	})
}

func TestScoreClamped(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	tx := &domain.Transaction{ID: "tx", Amount: 200000, Country: "KP", PlayerID: "p1"}
	snap := domain.EntitySnapshot{HourlyCount: 100, DailyAmount: 500000, PriorAlerts: 5}
	at := time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)

	a := scorer.Score(tx, snap, domain.RuleEvaluationResult{FinalAction: domain.ActionApprove}, domain.Enrichment{Blacklisted: true}, at)

	if a.Score != 1 {
		t.Errorf("expected composite to clamp at 1, got %v", a.Score)
	}
	if a.Action != domain.ActionReview {
		t.Errorf("expected review over threshold, got %s", a.Action)
	}
}

func TestScoreRuleActionWins(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	tx := &domain.Transaction{ID: "tx", Amount: 100, Country: "US", PlayerID: "p1"}

	ruleResult := domain.RuleEvaluationResult{FinalAction: domain.ActionBlock}
	a := scorer.Score(tx, domain.EntitySnapshot{}, ruleResult, domain.Enrichment{}, noon)

	if a.Action != domain.ActionBlock {
		t.Errorf("expected rule block to win over derived approve, got %s", a.Action)
	}
}

func TestExplanationDeterministic(t *testing.T) {
	scorer := NewScorer(testScoringConfig())
	tx := &domain.Transaction{ID: "tx", Amount: 60000, Country: "BR", PlayerID: "p1"}
	snap := domain.EntitySnapshot{DuplicateInWindow: true}
	ruleResult := domain.RuleEvaluationResult{
		FinalAction: domain.ActionFlag,
		Triggered: []domain.RuleOutcome{
			{RuleID: "r1", RuleName: "big amount", Score: 1, Reasons: []string{"amount > 50000"}},
		},
	}

	first := scorer.Score(tx, snap, ruleResult, domain.Enrichment{}, noon)
	second := scorer.Score(tx, snap, ruleResult, domain.Enrichment{}, noon)

	if first.Explanation != second.Explanation {
		t.Error("expected identical explanations for identical inputs")
	}
	for _, want := range []string{"contributing:", "amount_above_half_cap", "rules: big amount [amount > 50000]", "fraud probability 0.85"} {
		if !strings.Contains(first.Explanation, want) {
			t.Errorf("expected explanation to contain %q, got %q", want, first.Explanation)
		}
	}
}
