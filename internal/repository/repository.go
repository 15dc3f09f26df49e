// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
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

// SaveTransaction stores a sale transaction with tenant isolation.
// Resubmitting an ID upserts the row; the duplicate guard lives at the
// commission layer, one commission per transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.SaleTransaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO sale_transactions (
			id, tenant_id, gross_amount, net_amount, currency,
			transaction_date, customer_tier, product_category_id,
			territory_id, client_id, project_id, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			gross_amount = excluded.gross_amount,
			net_amount = excluded.net_amount,
			currency = excluded.currency,
			transaction_date = excluded.transaction_date,
			customer_tier = excluded.customer_tier,
			product_category_id = excluded.product_category_id,
			territory_id = excluded.territory_id,
			client_id = excluded.client_id,
			project_id = excluded.project_id,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID,
		tx.GrossAmount.String(), tx.NetAmount.String(), tx.Currency,
		tx.TransactionDate, tx.CustomerTier, tx.ProductCategoryID,
		tx.TerritoryID, tx.ClientID, tx.ProjectID,
		tx.CreatedAt, string(metadata),
	)
	return err
}

// GetTransaction retrieves a sale transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.SaleTransaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, gross_amount, net_amount, currency,
			   transaction_date, customer_tier, product_category_id,
			   territory_id, client_id, project_id, created_at, metadata
		FROM sale_transactions
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListTransactions retrieves sale transactions since a point in time.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string, since time.Time, limit int) ([]*domain.SaleTransaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, tenant_id, gross_amount, net_amount, currency,
			   transaction_date, customer_tier, product_category_id,
			   territory_id, client_id, project_id, created_at, metadata
		FROM sale_transactions
		WHERE tenant_id = ? AND transaction_date >= ?
		ORDER BY transaction_date ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.SaleTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.SaleTransaction, error) {
	var tx domain.SaleTransaction
	var gross, net, metadata string
	var tier, category, territory, client, project sql.NullString

	err := row.Scan(
		&tx.ID, &tx.TenantID, &gross, &net, &tx.Currency,
		&tx.TransactionDate, &tier, &category,
		&territory, &client, &project, &tx.CreatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	if tx.GrossAmount, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("invalid gross amount %q: %w", gross, err)
	}
	if tx.NetAmount, err = decimal.NewFromString(net); err != nil {
		return nil, fmt.Errorf("invalid net amount %q: %w", net, err)
	}

	tx.CustomerTier = tier.String
	tx.ProductCategoryID = category.String
	tx.TerritoryID = territory.String
	tx.ClientID = client.String
	tx.ProjectID = project.String

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// SavePlan stores a commission plan with tenant isolation.
func (r *SQLRepository) SavePlan(ctx context.Context, tenantID string, plan *domain.CommissionPlan) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	active := 0
	if plan.IsActive {
		active = 1
	}

	now := time.Now().UTC()
	createdAt := plan.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO commission_plans (
			id, tenant_id, name, description, project_id,
			commission_basis, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			project_id = excluded.project_id,
			commission_basis = excluded.commission_basis,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		plan.ID, tenantID, plan.Name, plan.Description, plan.ProjectID,
		string(plan.CommissionBasis), active, createdAt, now,
	)
	return err
}

// GetPlan retrieves a commission plan with tenant isolation.
func (r *SQLRepository) GetPlan(ctx context.Context, tenantID string, planID string) (*domain.CommissionPlan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, project_id,
			   commission_basis, is_active, created_at, updated_at
		FROM commission_plans
		WHERE tenant_id = ? AND id = ?
	`

	plan, err := scanPlan(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, planID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return plan, err
}

// ListActivePlans retrieves all active plans for a tenant.
func (r *SQLRepository) ListActivePlans(ctx context.Context, tenantID string) ([]*domain.CommissionPlan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, project_id,
			   commission_basis, is_active, created_at, updated_at
		FROM commission_plans
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.CommissionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func scanPlan(row rowScanner) (*domain.CommissionPlan, error) {
	var plan domain.CommissionPlan
	var description, projectID sql.NullString
	var basis string
	var active int

	err := row.Scan(
		&plan.ID, &plan.TenantID, &plan.Name, &description, &projectID,
		&basis, &active, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.Description = description.String
	plan.ProjectID = projectID.String
	plan.CommissionBasis = domain.CommissionBasis(basis)
	plan.IsActive = active == 1
	return &plan, nil
}

// SaveRule stores a commission rule with tenant isolation.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.CommissionRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO commission_rules (
			id, tenant_id, plan_id, name, rule_type,
			percentage, flat_amount, tier_threshold, tier_percentage,
			min_amount, max_amount, scope, priority,
			customer_tier, product_category_id, territory_id, client_id,
			condition_expr, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			name = excluded.name,
			rule_type = excluded.rule_type,
			percentage = excluded.percentage,
			flat_amount = excluded.flat_amount,
			tier_threshold = excluded.tier_threshold,
			tier_percentage = excluded.tier_percentage,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			scope = excluded.scope,
			priority = excluded.priority,
			customer_tier = excluded.customer_tier,
			product_category_id = excluded.product_category_id,
			territory_id = excluded.territory_id,
			client_id = excluded.client_id,
			condition_expr = excluded.condition_expr,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.PlanID, rule.Name, string(rule.RuleType),
		nullDecimal(rule.Percentage), nullDecimal(rule.FlatAmount),
		nullDecimal(rule.TierThreshold), nullDecimal(rule.TierPercentage),
		nullDecimal(rule.MinAmount), nullDecimal(rule.MaxAmount),
		string(rule.Scope), string(rule.Priority),
		rule.CustomerTier, rule.ProductCategoryID, rule.TerritoryID, rule.ClientID,
		rule.Condition, enabled, createdAt, now,
	)
	return err
}

// GetRule retrieves a commission rule with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.CommissionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := ruleSelect + ` WHERE tenant_id = ? AND id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRulesByPlan retrieves the enabled rules of a plan.
func (r *SQLRepository) ListRulesByPlan(ctx context.Context, tenantID string, planID string) ([]*domain.CommissionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := ruleSelect + ` WHERE tenant_id = ? AND plan_id = ? AND enabled = 1 ORDER BY created_at DESC, id`
	return r.queryRules(ctx, query, tenantID, planID)
}

// ListRules retrieves all rules for a tenant, enabled or not.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string) ([]*domain.CommissionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := ruleSelect + ` WHERE tenant_id = ? ORDER BY created_at DESC, id`
	return r.queryRules(ctx, query, tenantID)
}

// DeleteRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE commission_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const ruleSelect = `
	SELECT id, tenant_id, plan_id, name, rule_type,
		   percentage, flat_amount, tier_threshold, tier_percentage,
		   min_amount, max_amount, scope, priority,
		   customer_tier, product_category_id, territory_id, client_id,
		   condition_expr, enabled, created_at, updated_at
	FROM commission_rules
`

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.CommissionRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CommissionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*domain.CommissionRule, error) {
	var rule domain.CommissionRule
	var ruleType, scope string
	var priority, tier, category, territory, client, condition sql.NullString
	var pct, flat, tierThreshold, tierPct, minAmt, maxAmt sql.NullString
	var enabled int

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.PlanID, &rule.Name, &ruleType,
		&pct, &flat, &tierThreshold, &tierPct,
		&minAmt, &maxAmt, &scope, &priority,
		&tier, &category, &territory, &client,
		&condition, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.RuleType = domain.RuleType(ruleType)
	rule.Scope = domain.RuleScope(scope)
	rule.Priority = domain.RulePriority(priority.String)
	rule.CustomerTier = tier.String
	rule.ProductCategoryID = category.String
	rule.TerritoryID = territory.String
	rule.ClientID = client.String
	rule.Condition = condition.String
	rule.Enabled = enabled == 1

	fields := []struct {
		src sql.NullString
		dst **decimal.Decimal
		col string
	}{
		{pct, &rule.Percentage, "percentage"},
		{flat, &rule.FlatAmount, "flat_amount"},
		{tierThreshold, &rule.TierThreshold, "tier_threshold"},
		{tierPct, &rule.TierPercentage, "tier_percentage"},
		{minAmt, &rule.MinAmount, "min_amount"},
		{maxAmt, &rule.MaxAmount, "max_amount"},
	}
	for _, f := range fields {
		d, err := scanNullDecimal(f.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s for rule %s: %w", f.col, rule.ID, err)
		}
		*f.dst = d
	}

	return &rule, nil
}

// SaveCommission stores a calculated commission. At most one commission may
// exist per transaction; a second insert returns ErrDuplicateCommission.
func (r *SQLRepository) SaveCommission(ctx context.Context, tenantID string, c *domain.Commission) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	trace, err := json.Marshal(c.Trace)
	if err != nil {
		return fmt.Errorf("failed to serialize trace: %w", err)
	}

	query := `
		INSERT INTO commissions (
			id, tenant_id, transaction_id, plan_id, rule_id, status,
			amount, effective_rate, currency, trace, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.TransactionID, c.PlanID, c.RuleID, string(c.Status),
		c.Amount.String(), c.EffectiveRate.String(), c.Currency,
		string(trace), c.CreatedAt, c.CreatedAt,
	)
	if err != nil {
		// The unique (tenant_id, transaction_id) index is the authority;
		// map its violation to the domain sentinel.
		if existing, lookupErr := r.GetCommissionByTransaction(ctx, tenantID, c.TransactionID); lookupErr == nil && existing != nil {
			return domain.ErrDuplicateCommission
		}
		return err
	}
	return nil
}

// UpdateCommission replaces a commission's amount, status, and trace.
// Used when appending adjustments.
func (r *SQLRepository) UpdateCommission(ctx context.Context, tenantID string, c *domain.Commission) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	trace, err := json.Marshal(c.Trace)
	if err != nil {
		return fmt.Errorf("failed to serialize trace: %w", err)
	}

	query := `
		UPDATE commissions
		SET status = ?, amount = ?, effective_rate = ?, trace = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(c.Status), c.Amount.String(), c.EffectiveRate.String(),
		string(trace), time.Now().UTC(), tenantID, c.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCommission retrieves a commission by ID with tenant isolation.
func (r *SQLRepository) GetCommission(ctx context.Context, tenantID string, commissionID string) (*domain.Commission, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := commissionSelect + ` WHERE tenant_id = ? AND id = ?`

	c, err := scanCommission(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, commissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// GetCommissionByTransaction retrieves the commission for a transaction.
func (r *SQLRepository) GetCommissionByTransaction(ctx context.Context, tenantID string, txID string) (*domain.Commission, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := commissionSelect + ` WHERE tenant_id = ? AND transaction_id = ?`

	c, err := scanCommission(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

const commissionSelect = `
	SELECT id, tenant_id, transaction_id, plan_id, rule_id, status,
		   amount, effective_rate, currency, trace, created_at, updated_at
	FROM commissions
`

func scanCommission(row rowScanner) (*domain.Commission, error) {
	var c domain.Commission
	var planID, ruleID, currency sql.NullString
	var status, amount, rate, trace string

	err := row.Scan(
		&c.ID, &c.TenantID, &c.TransactionID, &planID, &ruleID, &status,
		&amount, &rate, &currency, &trace, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.PlanID = planID.String
	c.RuleID = ruleID.String
	c.Currency = currency.String
	c.Status = domain.CommissionStatus(status)

	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid commission amount %q: %w", amount, err)
	}
	if c.EffectiveRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("invalid effective rate %q: %w", rate, err)
	}

	if err := json.Unmarshal([]byte(trace), &c.Trace); err != nil {
		return nil, fmt.Errorf("failed to parse commission trace: %w", err)
	}

	return &c, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
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
