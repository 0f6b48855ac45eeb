package domain

import (
	"context"
)

// EnrichmentKind names the lookup a provider serves.
type EnrichmentKind string

const (
	EnrichBIN       EnrichmentKind = "bin"
	EnrichGeo       EnrichmentKind = "geo"
	EnrichBlacklist EnrichmentKind = "blacklist"
)

// EnrichmentResult is the small typed result of one provider lookup.
type EnrichmentResult struct {
	Kind    EnrichmentKind `json:"kind"`
	Value   string         `json:"value,omitempty"`
	Flagged bool           `json:"flagged"`
}

// EnrichmentProvider performs one kind of third-party lookup (BIN issuer
// metadata, geocoding, blacklist checks). Providers may fail or time
// out; the pipeline degrades their feature to a documented default and
// continues.
type EnrichmentProvider interface {
	Kind() EnrichmentKind
	Lookup(ctx context.Context, key string) (EnrichmentResult, error)
}

// Enrichment is the merged feature set from all providers for one
// transaction. Zero values are the degraded defaults: unknown issuer,
// unknown country, not blacklisted.
type Enrichment struct {
	Issuer      string   `json:"issuer,omitempty"`
	IPCountry   string   `json:"ipCountry,omitempty"`
	Blacklisted bool     `json:"blacklisted"`
	Degraded    []string `json:"degraded,omitempty"` // kinds that failed
}
