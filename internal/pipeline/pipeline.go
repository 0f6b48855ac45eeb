// Package pipeline orchestrates the per-transaction decision flow:
// enrich, evaluate rules, aggregate, score, decide, alert.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-risk/kestrel/internal/aggregate"
	"github.com/opensource-risk/kestrel/internal/alerts"
	"github.com/opensource-risk/kestrel/internal/enrich"
	"github.com/opensource-risk/kestrel/internal/rules"
	"github.com/opensource-risk/kestrel/internal/scoring"

	"github.com/opensource-risk/kestrel/internal/domain"
)

const engineVersion = "kestrel-1.0"

// Pipeline owns the decisioning components. All collaborators are
// injected; none are ambient globals.
type Pipeline struct {
	engine     *rules.Engine
	aggregator *aggregate.Aggregator
	scorer     *scoring.Scorer
	enricher   *enrich.Service
	sink       *alerts.Ring

	store domain.TransactionStore // optional
	bus   domain.EventBus         // optional
	cache domain.Cache            // optional, distributed velocity counters

	cfg   domain.PipelineConfig
	clock func() time.Time
	sem   chan struct{} // bounds in-flight transactions
}

// Options holds optional pipeline collaborators.
type Options struct {
	Store domain.TransactionStore
	Bus   domain.EventBus
	Cache domain.Cache
	Clock func() time.Time
}

// New creates a pipeline. engine, aggregator, scorer, enricher and sink
// are required.
func New(cfg domain.PipelineConfig, engine *rules.Engine, aggregator *aggregate.Aggregator, scorer *scoring.Scorer, enricher *enrich.Service, sink *alerts.Ring, opts Options) *Pipeline {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 100
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 0.7
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		engine:     engine,
		aggregator: aggregator,
		scorer:     scorer,
		enricher:   enricher,
		sink:       sink,
		store:      opts.Store,
		bus:        opts.Bus,
		cache:      opts.Cache,
		cfg:        cfg,
		clock:      clock,
		sem:        make(chan struct{}, cfg.MaxInFlight),
	}
}

// Engine returns the rule engine for admin rule mutation.
func (p *Pipeline) Engine() *rules.Engine {
	return p.engine
}

// SubmitTransaction runs one transaction through the pipeline and
// returns its terminal decision. Transactions for distinct entity keys
// run fully in parallel; same-key aggregation serializes inside the
// aggregator.
func (p *Pipeline) SubmitTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Decision, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := p.clock()
	now := tx.Timestamp
	if now.IsZero() {
		now = start
		tx.Timestamp = now
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}

	var warnings []string

	// Stage: enrich. Provider failures degrade to defaults.
	enrichStart := p.clock()
	enrichment := p.enricher.Enrich(ctx, tx.TenantID, tx)
	for _, kind := range enrichment.Degraded {
		warnings = append(warnings, "enrichment degraded: "+kind)
	}
	enrichMs := p.clock().Sub(enrichStart).Milliseconds()

	// Stage: rule evaluation against an immutable snapshot of the
	// active rule set, taken before any mutation.
	rulesStart := p.clock()
	snapshot := p.engine.Snapshot()
	ruleResult := snapshot.Evaluate(tx)
	rulesMs := p.clock().Sub(rulesStart).Milliseconds()

	// A cancelled run must not mutate entity state.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage: aggregate. The single mutating stage; all-or-nothing
	// under the entity lock. A panic here fails closed to zero-signal
	// defaults and forces manual review.
	entitySnap, aggFailed := p.observe(tx, now)
	if aggFailed {
		warnings = append(warnings, "aggregation failed: zero-signal defaults, flagged for manual review")
	}

	p.mergeDistributedVelocity(ctx, tx, &entitySnap)

	// Stage: score.
	assessment := p.scorer.Score(tx, entitySnap, ruleResult, enrichment, now)
	if aggFailed {
		assessment.Action = domain.MoreSevere(assessment.Action, domain.ActionReview)
	}

	// Stage: decide.
	tx.Status = domain.StatusForAction(assessment.Action)
	tx.RiskScore = assessment.Score

	decision := &domain.Decision{
		ID:         uuid.New().String(),
		TxID:       tx.ID,
		TenantID:   tx.TenantID,
		EntityKey:  tx.EntityKey(),
		Status:     tx.Status,
		Score:      assessment.Score,
		Action:     assessment.Action,
		Timestamp:  now,
		Assessment: assessment,
		RuleResult: ruleResult,
		Snapshot:   entitySnap,
		Warnings:   warnings,
		Metadata: domain.DecisionMetadata{
			EnrichMs:      enrichMs,
			RulesMs:       rulesMs,
			TotalMs:       p.clock().Sub(start).Milliseconds(),
			RulesInSet:    snapshot.Len(),
			EngineVersion: engineVersion,
		},
	}

	// Stage: alert. Side-effecting, last.
	if alert := p.maybeAlert(decision, tx); alert != nil {
		p.sink.Append(alert)
		p.aggregator.RecordAlert(decision.EntityKey)
		p.publish(ctx, tx.TenantID, domain.TopicAlert, alert)
	}

	p.persist(ctx, tx, decision)
	p.publish(ctx, tx.TenantID, domain.TopicDecision, decision)

	slog.Info("transaction decided",
		"tx_id", tx.ID,
		"entity", decision.EntityKey,
		"action", decision.Action,
		"score", decision.Score,
		"duration_ms", decision.Metadata.TotalMs,
	)

	return decision, nil
}

// observe applies the transaction to its entity window. The entity lock
// is released on every exit path; a panic yields zero-signal defaults.
func (p *Pipeline) observe(tx *domain.Transaction, now time.Time) (snap domain.EntitySnapshot, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("aggregation panic",
				"tx_id", tx.ID,
				"entity", tx.EntityKey(),
				"panic", r,
			)
			snap = domain.EntitySnapshot{EntityKey: tx.EntityKey()}
			failed = true
		}
	}()
	return p.aggregator.Observe(tx, now), false
}

// mergeDistributedVelocity folds the shared short-window counter into
// the local snapshot so multi-node deployments see cross-node velocity.
// Counter failure is soft; the local count stands.
func (p *Pipeline) mergeDistributedVelocity(ctx context.Context, tx *domain.Transaction, snap *domain.EntitySnapshot) {
	if p.cache == nil {
		return
	}
	count, err := p.cache.IncrementCounter(ctx, tx.TenantID, "velocity:minute:"+snap.EntityKey, time.Minute)
	if err != nil {
		slog.Debug("distributed velocity counter unavailable", "error", err)
		return
	}
	if int(count) > snap.MinuteCount {
		snap.MinuteCount = int(count)
	}
}

// maybeAlert creates an alert when the score crosses the threshold or
// the outcome is a hold.
func (p *Pipeline) maybeAlert(d *domain.Decision, tx *domain.Transaction) *domain.Alert {
	crossed := d.Score >= p.cfg.AlertThreshold ||
		d.Action == domain.ActionBlock ||
		d.Assessment.Fraud.IsFraudulent

	if !crossed {
		return nil
	}

	severity := domain.SeverityMedium
	switch {
	case d.Assessment.Fraud.IsFraudulent || d.Action == domain.ActionBlock:
		severity = domain.SeverityCritical
	case d.Score > 0.8:
		severity = domain.SeverityHigh
	}

	return &domain.Alert{
		ID:          uuid.New().String(),
		EntityKey:   d.EntityKey,
		Severity:    severity,
		Title:       fmt.Sprintf("risk %s for %s", d.Action, d.EntityKey),
		Description: d.Assessment.Explanation,
		Timestamp:   d.Timestamp,
		TxID:        tx.ID,
	}
}

func (p *Pipeline) persist(ctx context.Context, tx *domain.Transaction, d *domain.Decision) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveTransaction(ctx, tx.TenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
	}
	if err := p.store.SaveDecision(ctx, tx.TenantID, d); err != nil {
		slog.Error("failed to save decision", "decision_id", d.ID, "error", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, tenantID, topic string, payload interface{}) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, tenantID, topic, data); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

// GetAlerts returns alerts from the sink matching the filter.
func (p *Pipeline) GetAlerts(filter domain.AlertFilter) []*domain.Alert {
	return p.sink.Query(filter)
}

// GetEntitySnapshot returns the read-only aggregate view of one entity.
func (p *Pipeline) GetEntitySnapshot(key string) (domain.EntitySnapshot, bool) {
	return p.aggregator.Snapshot(key, p.clock())
}

// LoadRules replaces the active rule set. Takes effect for pipeline
// runs started after the call returns.
func (p *Pipeline) LoadRules(ruleSet []*domain.Rule) error {
	return p.engine.Load(ruleSet)
}

// UpsertRule adds or updates one rule.
func (p *Pipeline) UpsertRule(rule *domain.Rule) error {
	return p.engine.Upsert(rule)
}

// DeleteRule removes one rule.
func (p *Pipeline) DeleteRule(id string) error {
	return p.engine.Delete(id)
}
