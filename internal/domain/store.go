package domain

import (
	"context"
	"time"
)

// TransactionStore defines the interface for data persistence. The core
// does not require any particular storage engine; implementations must
// scope every operation by tenant.
type TransactionStore interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	LoadTransactions(ctx context.Context, tenantID string, filter TransactionFilter) ([]*Transaction, error)

	// Rule document operations
	SaveRule(ctx context.Context, tenantID string, rule *Rule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*Rule, error)
	ListRules(ctx context.Context, tenantID string) ([]*Rule, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Decision persistence
	SaveDecision(ctx context.Context, tenantID string, d *Decision) error
	GetDecision(ctx context.Context, tenantID string, decisionID string) (*Decision, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TransactionFilter selects persisted transactions. Zero values match
// everything.
type TransactionFilter struct {
	EntityKey string
	Status    TransactionStatus
	Since     time.Time
	Limit     int
}

// RepositoryConfig holds configuration for store initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
