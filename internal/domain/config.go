package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Decisioning configuration
	Scoring    ScoringConfig    `json:"scoring"`
	Aggregator AggregatorConfig `json:"aggregator"`
	Pipeline   PipelineConfig   `json:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig holds the weight table for the risk scorer. All weights
// are configuration so the heuristic stays explainable and replayable.
type ScoringConfig struct {
	AmountCap        float64 `json:"amountCap"`        // hard cap
	AmountHardWeight float64 `json:"amountHardWeight"` // amount > cap
	AmountSoftWeight float64 `json:"amountSoftWeight"` // amount > cap/2

	HourlyLimit    int     `json:"hourlyLimit"`
	VelocityWeight float64 `json:"velocityWeight"`

	HistoryWeight float64 `json:"historyWeight"` // x entityRiskLevel

	TemporalWeight float64 `json:"temporalWeight"` // off-hours

	GeoWeight         float64  `json:"geoWeight"`      // outside home countries
	HighRiskWeight    float64  `json:"highRiskWeight"` // sanctioned list, stackable
	HomeCountries     []string `json:"homeCountries"`
	HighRiskCountries []string `json:"highRiskCountries"`

	BlacklistWeight float64 `json:"blacklistWeight"` // enrichment blacklist hit
	MinuteLimit     int     `json:"minuteLimit"`     // trailing 1-minute velocity

	// Action thresholds on the composite score.
	ReviewThreshold float64 `json:"reviewThreshold"` // score > t -> review
	FlagThreshold   float64 `json:"flagThreshold"`   // score > t -> flag
}

// AggregatorConfig holds entity window settings.
type AggregatorConfig struct {
	SessionTimeout   time.Duration `json:"sessionTimeout"`
	WindowRetention  time.Duration `json:"windowRetention"`  // trailing hourly window length
	DailyRetention   time.Duration `json:"dailyRetention"`   // entry prune + record eviction horizon
	DuplicateWindow  time.Duration `json:"duplicateWindow"`  // same-amount duplicate detection
	EvictionInterval time.Duration `json:"evictionInterval"` // periodic sweep
	LockShards       int           `json:"lockShards"`
}

// PipelineConfig holds decision pipeline settings.
type PipelineConfig struct {
	MaxInFlight       int           `json:"maxInFlight"` // bounded worker concurrency
	EnrichmentTimeout time.Duration `json:"enrichmentTimeout"`
	AlertThreshold    float64       `json:"alertThreshold"`
	AlertCapacity     int           `json:"alertCapacity"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring:    DefaultScoringConfig(),
		Aggregator: DefaultAggregatorConfig(),
		Pipeline: PipelineConfig{
			MaxInFlight:       100,
			EnrichmentTimeout: 300 * time.Millisecond,
			AlertThreshold:    0.7,
			AlertCapacity:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DefaultScoringConfig returns the documented default weight table.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		AmountCap:         100000,
		AmountHardWeight:  0.4,
		AmountSoftWeight:  0.2,
		HourlyLimit:       50,
		VelocityWeight:    0.3,
		HistoryWeight:     0.3,
		TemporalWeight:    0.1,
		GeoWeight:         0.2,
		HighRiskWeight:    0.15,
		HomeCountries:     []string{"US"},
		HighRiskCountries: nil,
		BlacklistWeight:   0.3,
		MinuteLimit:       10,
		ReviewThreshold:   0.6,
		FlagThreshold:     0.4,
	}
}

// DefaultAggregatorConfig returns the documented default window settings.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		SessionTimeout:   30 * time.Minute,
		WindowRetention:  time.Hour,
		DailyRetention:   24 * time.Hour,
		DuplicateWindow:  60 * time.Second,
		EvictionInterval: time.Second,
		LockShards:       64,
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
