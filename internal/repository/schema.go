package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entity_key TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    card_bin TEXT NOT NULL,
    session_id TEXT NOT NULL,
    player_id TEXT,
    country TEXT,
    city TEXT,
    ip TEXT,
    user_agent TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_entity ON transactions(tenant_id, entity_key);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(tenant_id, timestamp);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    conditions TEXT NOT NULL,
    action TEXT NOT NULL,
    expression TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant ON rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(tenant_id, is_active);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    entity_key TEXT NOT NULL,
    status TEXT NOT NULL,
    score REAL NOT NULL,
    action TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    assessment TEXT NOT NULL,
    rule_result TEXT NOT NULL,
    snapshot TEXT NOT NULL,
    warnings TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_decisions_tx ON decisions(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_decisions_entity ON decisions(tenant_id, entity_key);
CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRules,
		schemaDecisions,
	}
}
