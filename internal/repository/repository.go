// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-risk/kestrel/internal/domain"
)

// SQLRepository implements domain.TransactionStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.TransactionStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, tenant_id, entity_key, amount, currency,
			card_bin, session_id, player_id, country, city, ip, user_agent,
			timestamp, created_at, status, risk_score, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.EntityKey(),
		tx.Amount, tx.Currency,
		tx.CardBIN, tx.SessionID, tx.PlayerID,
		tx.Country, tx.City, tx.IP, tx.UserAgent,
		tx.Timestamp, tx.CreatedAt,
		string(tx.Status), tx.RiskScore, string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, amount, currency,
			   card_bin, session_id, player_id, country, city, ip, user_agent,
			   timestamp, created_at, status, risk_score, metadata
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// LoadTransactions retrieves persisted transactions matching the filter,
// newest first, with tenant isolation.
func (r *SQLRepository) LoadTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, amount, currency,
			   card_bin, session_id, player_id, country, city, ip, user_agent,
			   timestamp, created_at, status, risk_score, metadata
		FROM transactions
		WHERE tenant_id = ?
	`
	args := []interface{}{tenantID}

	if filter.EntityKey != "" {
		query += " AND entity_key = ?"
		args = append(args, filter.EntityKey)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var playerID, country, city, ip, userAgent sql.NullString
	var status, metadata string

	if err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.Amount, &tx.Currency,
		&tx.CardBIN, &tx.SessionID, &playerID,
		&country, &city, &ip, &userAgent,
		&tx.Timestamp, &tx.CreatedAt,
		&status, &tx.RiskScore, &metadata,
	); err != nil {
		return nil, err
	}

	tx.PlayerID = playerID.String
	tx.Country = country.String
	tx.City = city.String
	tx.IP = ip.String
	tx.UserAgent = userAgent.String
	tx.Status = domain.TransactionStatus(status)

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// SaveRule stores a rule document with tenant isolation. Existing rules
// are upserted in place.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	conditions, _ := json.Marshal(rule.Conditions)

	isActive := 0
	if rule.IsActive {
		isActive = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rules (
			id, tenant_id, name, version, priority, is_active, conditions, action, expression, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			priority = excluded.priority,
			is_active = excluded.is_active,
			conditions = excluded.conditions,
			action = excluded.action,
			expression = excluded.expression,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Version,
		rule.Priority, isActive, string(conditions), string(rule.Action), rule.Expression,
		now, now,
	)
	return err
}

// GetRule retrieves a rule document with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, version, priority, is_active, conditions, action, expression
		FROM rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules retrieves all rule documents for a tenant in insertion order.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, version, priority, is_active, conditions, action, expression
		FROM rules
		WHERE tenant_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var conditions, action string
	var expression sql.NullString
	var isActive int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Version,
		&rule.Priority, &isActive, &conditions, &action, &expression,
	); err != nil {
		return nil, err
	}

	rule.IsActive = isActive == 1
	rule.Action = domain.Action(action)
	rule.Expression = expression.String
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse rule conditions for %s: %w", rule.ID, err)
	}

	return &rule, nil
}

// DeleteRule removes a rule document with tenant isolation.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `DELETE FROM rules WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveDecision stores a decision record with tenant isolation.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, d *domain.Decision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	assessment, _ := json.Marshal(d.Assessment)
	ruleResult, _ := json.Marshal(d.RuleResult)
	snapshot, _ := json.Marshal(d.Snapshot)
	warnings, _ := json.Marshal(d.Warnings)
	metadata, _ := json.Marshal(d.Metadata)

	query := `
		INSERT INTO decisions (
			id, tenant_id, tx_id, entity_key, status, score, action, timestamp,
			assessment, rule_result, snapshot, warnings, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, tenantID, d.TxID, d.EntityKey,
		string(d.Status), d.Score, string(d.Action), d.Timestamp,
		string(assessment), string(ruleResult), string(snapshot),
		string(warnings), string(metadata),
	)
	return err
}

// GetDecision retrieves a decision by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, decisionID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, entity_key, status, score, action, timestamp,
			   assessment, rule_result, snapshot, warnings, metadata
		FROM decisions
		WHERE tenant_id = ? AND id = ?
	`

	var d domain.Decision
	var status, action string
	var assessment, ruleResult, snapshot, warnings, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID).Scan(
		&d.ID, &d.TenantID, &d.TxID, &d.EntityKey,
		&status, &d.Score, &action, &d.Timestamp,
		&assessment, &ruleResult, &snapshot, &warnings, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Status = domain.TransactionStatus(status)
	d.Action = domain.Action(action)
	json.Unmarshal([]byte(assessment), &d.Assessment)
	json.Unmarshal([]byte(ruleResult), &d.RuleResult)
	json.Unmarshal([]byte(snapshot), &d.Snapshot)
	json.Unmarshal([]byte(warnings), &d.Warnings)
	json.Unmarshal([]byte(metadata), &d.Metadata)

	return &d, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
