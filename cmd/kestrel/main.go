// Kestrel - Real-time transaction risk decisioning.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-risk/kestrel/internal/aggregate"
	"github.com/opensource-risk/kestrel/internal/alerts"
	"github.com/opensource-risk/kestrel/internal/api"
	"github.com/opensource-risk/kestrel/internal/bus"
	"github.com/opensource-risk/kestrel/internal/cache"
	"github.com/opensource-risk/kestrel/internal/domain"
	"github.com/opensource-risk/kestrel/internal/enrich"
	"github.com/opensource-risk/kestrel/internal/pipeline"
	"github.com/opensource-risk/kestrel/internal/repository"
	"github.com/opensource-risk/kestrel/internal/rules"
	"github.com/opensource-risk/kestrel/internal/scoring"
	"github.com/opensource-risk/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, store, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Entity Aggregator with background eviction
	aggregator := aggregate.NewAggregator(cfg.Aggregator)
	aggregator.StartEviction(ctx, time.Now)
	slog.Info("aggregator initialized",
		"session_timeout", cfg.Aggregator.SessionTimeout,
		"lock_shards", cfg.Aggregator.LockShards,
	)

	// Initialize Risk Scorer
	scorer := scoring.NewScorer(cfg.Scoring)
	slog.Info("scorer initialized",
		"review_threshold", cfg.Scoring.ReviewThreshold,
		"flag_threshold", cfg.Scoring.FlagThreshold,
	)

	// Initialize Enrichment with providers from environment file paths
	enricher := enrich.NewService(cfg.Pipeline.EnrichmentTimeout, cacheImpl, loadProviders()...)

	// Initialize Alert Sink
	sink := alerts.NewRing(cfg.Pipeline.AlertCapacity)

	// Initialize Decision Pipeline
	pipe := pipeline.New(cfg.Pipeline, engine, aggregator, scorer, enricher, sink, pipeline.Options{
		Store: store,
		Bus:   busImpl,
		Cache: cacheImpl,
	})
	slog.Info("decision pipeline initialized",
		"max_in_flight", cfg.Pipeline.MaxInFlight,
		"alert_threshold", cfg.Pipeline.AlertThreshold,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipe)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, pipe, store, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// loadRulesFromDatabase loads rules from the database into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, store domain.TransactionStore, engine *rules.Engine) error {
	dbRules, err := store.ListRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.Load(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

// loadProviders builds enrichment providers from JSON table files named
// in the environment. Missing or unreadable files mean the lookup runs
// with an empty table.
func loadProviders() []domain.EnrichmentProvider {
	var providers []domain.EnrichmentProvider

	tables := map[domain.EnrichmentKind]string{
		domain.EnrichBIN:       os.Getenv("KESTREL_BIN_TABLE"),
		domain.EnrichGeo:       os.Getenv("KESTREL_GEO_TABLE"),
		domain.EnrichBlacklist: os.Getenv("KESTREL_BLACKLIST_TABLE"),
	}

	for kind, path := range tables {
		if path == "" {
			providers = append(providers, enrich.NewStaticProvider(kind, nil))
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("failed to read enrichment table", "kind", kind, "path", path, "error", err)
			providers = append(providers, enrich.NewStaticProvider(kind, nil))
			continue
		}
		p, err := enrich.LoadStaticProvider(kind, data)
		if err != nil {
			slog.Warn("failed to parse enrichment table", "kind", kind, "path", path, "error", err)
			providers = append(providers, enrich.NewStaticProvider(kind, nil))
			continue
		}
		slog.Info("enrichment table loaded", "kind", kind, "path", path)
		providers = append(providers, p)
	}

	return providers
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    Transaction Risk Decisioning Engine    ║")
	fmt.Println("  ║      Every transaction, decided.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions      - Decision a transaction")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /decisions/{id}    - Get decision by ID")
	fmt.Println("    GET  /alerts            - List recent alerts")
	fmt.Println("    GET  /entities/{key}    - Get entity aggregate state")
	fmt.Println("    GET  /rules             - List all rules")
	fmt.Println("    POST /rules             - Create a new rule")
	fmt.Println("    DELETE /rules/{id}      - Delete a rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
