package repository

// Schema definitions for the Merlin database.
// Compatible with both SQLite and PostgreSQL.

const schemaRatingFacts = `
CREATE TABLE IF NOT EXISTS rating_facts (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    insurance_type TEXT NOT NULL,
    rating_key TEXT NOT NULL,
    multiplier REAL NOT NULL,
    valid_from TIMESTAMP NOT NULL,
    valid_to TIMESTAMP,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rating_facts_tenant ON rating_facts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rating_facts_lookup ON rating_facts(tenant_id, insurance_type, rating_key, enabled);
CREATE INDEX IF NOT EXISTS idx_rating_facts_window ON rating_facts(tenant_id, insurance_type, valid_from);
`

const schemaQuotes = `
CREATE TABLE IF NOT EXISTS quotes (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    insurance_type TEXT NOT NULL,
    vehicle TEXT NOT NULL,
    policy_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    breakdown TEXT NOT NULL,
    warnings TEXT,
    reasons TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotes_tenant ON quotes(tenant_id);
CREATE INDEX IF NOT EXISTS idx_quotes_status ON quotes(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_quotes_created ON quotes(tenant_id, created_at);
`

const schemaHeuristicRules = `
CREATE TABLE IF NOT EXISTS heuristic_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    message TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'warning',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_heuristic_rules_tenant ON heuristic_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_heuristic_rules_enabled ON heuristic_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRatingFacts,
		schemaQuotes,
		schemaHeuristicRules,
	}
}
