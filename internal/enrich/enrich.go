// Package enrich merges pluggable lookup providers (BIN issuer, geo,
// blacklist) into the feature set used by the scorer. Provider failure
// degrades the feature to a default and never aborts the pipeline.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-risk/kestrel/internal/domain"
)

// Service fans out to the registered providers with a short per-lookup
// timeout and caches successful results.
type Service struct {
	providers map[domain.EnrichmentKind]domain.EnrichmentProvider
	cache     domain.Cache
	timeout   time.Duration
	cacheTTL  time.Duration
}

// NewService creates an enrichment service. cache may be nil.
func NewService(timeout time.Duration, cache domain.Cache, providers ...domain.EnrichmentProvider) *Service {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	m := make(map[domain.EnrichmentKind]domain.EnrichmentProvider, len(providers))
	for _, p := range providers {
		m[p.Kind()] = p
	}
	return &Service{
		providers: m,
		cache:     cache,
		timeout:   timeout,
		cacheTTL:  time.Hour,
	}
}

// Enrich runs every applicable lookup for the transaction and merges
// the results. Failed lookups are recorded in Degraded and fall back to
// zero-value defaults (unknown issuer, unknown country, not
// blacklisted).
func (s *Service) Enrich(ctx context.Context, tenantID string, tx *domain.Transaction) domain.Enrichment {
	var out domain.Enrichment

	if res, ok := s.lookup(ctx, tenantID, domain.EnrichBIN, tx.CardBIN, &out); ok {
		out.Issuer = res.Value
	}
	if res, ok := s.lookup(ctx, tenantID, domain.EnrichGeo, tx.IP, &out); ok {
		out.IPCountry = res.Value
	}
	if res, ok := s.lookup(ctx, tenantID, domain.EnrichBlacklist, tx.IP, &out); ok {
		out.Blacklisted = res.Flagged
	}

	return out
}

func (s *Service) lookup(ctx context.Context, tenantID string, kind domain.EnrichmentKind, key string, out *domain.Enrichment) (domain.EnrichmentResult, bool) {
	provider, ok := s.providers[kind]
	if !ok || key == "" {
		return domain.EnrichmentResult{}, false
	}

	cacheKey := "enrich:" + string(kind) + ":" + key
	if s.cache != nil {
		if cached, err := s.cache.GetEnrichment(ctx, tenantID, cacheKey); err == nil && cached != nil {
			return *cached, true
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := provider.Lookup(lookupCtx, key)
	if err != nil {
		slog.Warn("enrichment lookup degraded",
			"kind", kind,
			"error", err,
		)
		out.Degraded = append(out.Degraded, string(kind))
		return domain.EnrichmentResult{}, false
	}

	if s.cache != nil {
		_ = s.cache.SetEnrichment(ctx, tenantID, cacheKey, &res, s.cacheTTL)
	}
	return res, true
}

// StaticProvider serves lookups from a fixed table. Used for tests and
// for configuring small allow/deny lists without an external service.
type StaticProvider struct {
	kind    domain.EnrichmentKind
	entries map[string]domain.EnrichmentResult
}

// NewStaticProvider creates a provider backed by a fixed table.
func NewStaticProvider(kind domain.EnrichmentKind, entries map[string]domain.EnrichmentResult) *StaticProvider {
	return &StaticProvider{kind: kind, entries: entries}
}

// Kind returns the lookup kind this provider serves.
func (p *StaticProvider) Kind() domain.EnrichmentKind {
	return p.kind
}

// Lookup returns the table entry for key, or an unflagged unknown
// result when absent.
func (p *StaticProvider) Lookup(ctx context.Context, key string) (domain.EnrichmentResult, error) {
	if res, ok := p.entries[key]; ok {
		res.Kind = p.kind
		return res, nil
	}
	return domain.EnrichmentResult{Kind: p.kind}, nil
}

// LoadStaticProvider parses a JSON table into a StaticProvider, for
// loading lists from configuration files.
func LoadStaticProvider(kind domain.EnrichmentKind, data []byte) (*StaticProvider, error) {
	entries := make(map[string]domain.EnrichmentResult)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return NewStaticProvider(kind, entries), nil
}
