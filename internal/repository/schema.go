package repository

// Schema definitions for CommissionFlow.
// Compatible with both SQLite and PostgreSQL. Monetary values are stored as
// decimal strings (TEXT), never floating point.

const schemaSaleTransactions = `
CREATE TABLE IF NOT EXISTS sale_transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    gross_amount TEXT NOT NULL,
    net_amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    transaction_date TIMESTAMP NOT NULL,
    customer_tier TEXT,
    product_category_id TEXT,
    territory_id TEXT,
    client_id TEXT,
    project_id TEXT,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_sale_transactions_tenant ON sale_transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_sale_transactions_client ON sale_transactions(tenant_id, client_id);
CREATE INDEX IF NOT EXISTS idx_sale_transactions_date ON sale_transactions(tenant_id, transaction_date);
`

const schemaCommissionPlans = `
CREATE TABLE IF NOT EXISTS commission_plans (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    project_id TEXT,
    commission_basis TEXT NOT NULL DEFAULT 'GROSS',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_commission_plans_tenant ON commission_plans(tenant_id);
CREATE INDEX IF NOT EXISTS idx_commission_plans_active ON commission_plans(tenant_id, is_active);
CREATE INDEX IF NOT EXISTS idx_commission_plans_project ON commission_plans(tenant_id, project_id);
`

const schemaCommissionRules = `
CREATE TABLE IF NOT EXISTS commission_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    plan_id TEXT NOT NULL,
    name TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    percentage TEXT,
    flat_amount TEXT,
    tier_threshold TEXT,
    tier_percentage TEXT,
    min_amount TEXT,
    max_amount TEXT,
    scope TEXT NOT NULL,
    priority TEXT,
    customer_tier TEXT,
    product_category_id TEXT,
    territory_id TEXT,
    client_id TEXT,
    condition_expr TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_commission_rules_tenant ON commission_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_commission_rules_plan ON commission_rules(tenant_id, plan_id);
CREATE INDEX IF NOT EXISTS idx_commission_rules_enabled ON commission_rules(tenant_id, enabled);
`

// schemaCommissions holds calculated commissions with their audit traces.
// The unique (tenant_id, transaction_id) index enforces at most one
// commission per sale transaction.
const schemaCommissions = `
CREATE TABLE IF NOT EXISTS commissions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    plan_id TEXT,
    rule_id TEXT,
    status TEXT NOT NULL,
    amount TEXT NOT NULL,
    effective_rate TEXT NOT NULL,
    currency TEXT,
    trace TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_commissions_transaction ON commissions(tenant_id, transaction_id);
CREATE INDEX IF NOT EXISTS idx_commissions_tenant ON commissions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_commissions_status ON commissions(tenant_id, status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSaleTransactions,
		schemaCommissionPlans,
		schemaCommissionRules,
		schemaCommissions,
	}
}
