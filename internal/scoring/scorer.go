// Package scoring combines transaction features, rule-trigger signal
// and aggregator output into one composite, explainable risk score.
package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-risk/kestrel/internal/domain"
)

// Scorer is the stateless risk scorer. Every contributing and
// mitigating factor is individually named so the explanation can be
// replayed for audit.
type Scorer struct {
	cfg domain.ScoringConfig
}

// NewScorer creates a scorer with the given weight table.
func NewScorer(cfg domain.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score produces the risk assessment for one transaction. The heuristic
// is additive and order-independent; the composite is clamped to [0,1].
// now is threaded explicitly so results are deterministic in tests.
func (s *Scorer) Score(tx *domain.Transaction, snap domain.EntitySnapshot, ruleResult domain.RuleEvaluationResult, enrich domain.Enrichment, now time.Time) domain.RiskAssessment {
	var factors []domain.RiskFactor
	var mitigating []string

	factors, mitigating = s.amountRisk(tx, factors, mitigating)
	factors, mitigating = s.velocityRisk(snap, factors, mitigating)
	factors = s.historyRisk(snap, factors)
	factors = s.temporalRisk(now, factors)
	factors, mitigating = s.geoRisk(tx, enrich, factors, mitigating)

	if enrich.Blacklisted {
		factors = append(factors, domain.RiskFactor{
			Name:   "blacklisted",
			Weight: s.cfg.BlacklistWeight,
			Detail: "entity appears on a blacklist",
		})
	}

	score := 0.0
	for _, f := range factors {
		score += f.Weight
	}
	score = clamp(score)

	fraud := s.fraudCheck(tx, snap)

	action := s.resolveAction(tx, score, fraud, ruleResult)

	assessment := domain.RiskAssessment{
		Score:       score,
		Factors:     factors,
		Mitigating:  mitigating,
		Action:      action,
		Fraud:       fraud,
		GeneratedAt: now,
	}
	assessment.Explanation = buildExplanation(assessment, ruleResult, now)
	return assessment
}

func (s *Scorer) amountRisk(tx *domain.Transaction, factors []domain.RiskFactor, mitigating []string) ([]domain.RiskFactor, []string) {
	switch {
	case tx.Amount > s.cfg.AmountCap:
		factors = append(factors, domain.RiskFactor{
			Name:   "amount_exceeds_cap",
			Weight: s.cfg.AmountHardWeight,
			Detail: fmt.Sprintf("amount %.2f exceeds cap %.2f", tx.Amount, s.cfg.AmountCap),
		})
	case tx.Amount > s.cfg.AmountCap/2:
		factors = append(factors, domain.RiskFactor{
			Name:   "amount_above_half_cap",
			Weight: s.cfg.AmountSoftWeight,
			Detail: fmt.Sprintf("amount %.2f above half the cap", tx.Amount),
		})
	default:
		mitigating = append(mitigating, "amount_within_limits")
	}
	return factors, mitigating
}

func (s *Scorer) velocityRisk(snap domain.EntitySnapshot, factors []domain.RiskFactor, mitigating []string) ([]domain.RiskFactor, []string) {
	if snap.HourlyCount > s.cfg.HourlyLimit {
		factors = append(factors, domain.RiskFactor{
			Name:   "hourly_velocity",
			Weight: s.cfg.VelocityWeight,
			Detail: fmt.Sprintf("%d transactions in the trailing hour (limit %d)", snap.HourlyCount, s.cfg.HourlyLimit),
		})
	} else {
		mitigating = append(mitigating, "velocity_within_limits")
	}
	return factors, mitigating
}

// historyRisk derives an entity risk level in [0,1] from the entity's
// daily-spend-over-cap ratio, frequency-over-limit flag and prior-alert
// count, each with a capped contribution.
func (s *Scorer) historyRisk(snap domain.EntitySnapshot, factors []domain.RiskFactor) []domain.RiskFactor {
	level := 0.0

	if s.cfg.AmountCap > 0 {
		ratio := snap.DailyAmount / s.cfg.AmountCap
		if ratio > 1 {
			ratio = 1
		}
		level += 0.5 * ratio
	}
	if snap.HourlyCount > s.cfg.HourlyLimit {
		level += 0.25
	}
	if snap.PriorAlerts > 0 {
		alertRatio := float64(snap.PriorAlerts) / 3.0
		if alertRatio > 1 {
			alertRatio = 1
		}
		level += 0.25 * alertRatio
	}
	if level > 1 {
		level = 1
	}

	if level > 0 {
		factors = append(factors, domain.RiskFactor{
			Name:   "entity_history",
			Weight: s.cfg.HistoryWeight * level,
			Detail: fmt.Sprintf("entity risk level %.2f (daily %.2f, prior alerts %d)", level, snap.DailyAmount, snap.PriorAlerts),
		})
	}
	return factors
}

func (s *Scorer) temporalRisk(now time.Time, factors []domain.RiskFactor) []domain.RiskFactor {
	hour := now.UTC().Hour()
	if hour < 6 || hour == 23 {
		factors = append(factors, domain.RiskFactor{
			Name:   "off_hours",
			Weight: s.cfg.TemporalWeight,
			Detail: fmt.Sprintf("transaction at %02d:00 UTC", hour),
		})
	}
	return factors
}

// geoRisk treats an unknown country as neither home nor high-risk (the
// documented degraded default for failed geo enrichment). The high-risk
// penalty stacks on top of the off-home penalty.
func (s *Scorer) geoRisk(tx *domain.Transaction, enrich domain.Enrichment, factors []domain.RiskFactor, mitigating []string) ([]domain.RiskFactor, []string) {
	country := tx.Country
	if country == "" {
		country = enrich.IPCountry
	}
	if country == "" {
		return factors, mitigating
	}

	if !containsFold(s.cfg.HomeCountries, country) {
		factors = append(factors, domain.RiskFactor{
			Name:   "foreign_country",
			Weight: s.cfg.GeoWeight,
			Detail: fmt.Sprintf("country %s outside home countries", country),
		})
	} else {
		mitigating = append(mitigating, "home_country")
	}
	if containsFold(s.cfg.HighRiskCountries, country) {
		factors = append(factors, domain.RiskFactor{
			Name:   "high_risk_country",
			Weight: s.cfg.HighRiskWeight,
			Detail: fmt.Sprintf("country %s on the high-risk list", country),
		})
	}
	return factors, mitigating
}

// fraudCheck is the separate fraud sub-assessment, reported
// independently of the composite score.
func (s *Scorer) fraudCheck(tx *domain.Transaction, snap domain.EntitySnapshot) domain.FraudCheck {
	check := domain.FraudCheck{}

	if snap.DuplicateInWindow {
		check.IsFraudulent = true
		if check.Probability < 0.85 {
			check.Probability = 0.85
		}
		check.Reasons = append(check.Reasons,
			fmt.Sprintf("duplicate amount %.2f for entity within window", tx.Amount))
	}
	if snap.MinuteCount > s.cfg.MinuteLimit {
		if check.Probability < 0.7 {
			check.Probability = 0.7
		}
		check.Reasons = append(check.Reasons,
			fmt.Sprintf("%d transactions in the trailing minute (limit %d)", snap.MinuteCount, s.cfg.MinuteLimit))
	}
	return check
}

// resolveAction picks the more severe of the rule-engine action and the
// score/fraud-derived action. An amount over the hard cap forces at
// least review regardless of the remaining signals.
func (s *Scorer) resolveAction(tx *domain.Transaction, score float64, fraud domain.FraudCheck, ruleResult domain.RuleEvaluationResult) domain.Action {
	var derived domain.Action
	switch {
	case fraud.IsFraudulent:
		derived = domain.ActionBlock
	case score > s.cfg.ReviewThreshold:
		derived = domain.ActionReview
	case score > s.cfg.FlagThreshold:
		derived = domain.ActionFlag
	default:
		derived = domain.ActionApprove
	}

	if tx.Amount > s.cfg.AmountCap {
		derived = domain.MoreSevere(derived, domain.ActionReview)
	}

	return domain.MoreSevere(ruleResult.FinalAction, derived)
}

// buildExplanation renders the factor lists into deterministic
// free text. No randomness and no wall-clock wording beyond the
// injected timestamp.
func buildExplanation(a domain.RiskAssessment, ruleResult domain.RuleEvaluationResult, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "risk score %.2f at %s; action %s", a.Score, now.UTC().Format(time.RFC3339), a.Action)

	if len(a.Factors) > 0 {
		b.WriteString("; contributing: ")
		for i, f := range a.Factors {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (+%.2f)", f.Name, f.Weight)
		}
	}
	if len(a.Mitigating) > 0 {
		b.WriteString("; mitigating: ")
		b.WriteString(strings.Join(a.Mitigating, ", "))
	}
	if len(ruleResult.Triggered) > 0 {
		b.WriteString("; rules: ")
		for i, r := range ruleResult.Triggered {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s [%s]", r.RuleName, strings.Join(r.Reasons, "; "))
		}
	}
	if a.Fraud.IsFraudulent || a.Fraud.Probability > 0 {
		fmt.Fprintf(&b, "; fraud probability %.2f", a.Fraud.Probability)
	}

	return b.String()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
