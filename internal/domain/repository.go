// Package domain defines the core types and interfaces for CommissionFlow.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Sale transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *SaleTransaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*SaleTransaction, error)
	ListTransactions(ctx context.Context, tenantID string, since time.Time, limit int) ([]*SaleTransaction, error)

	// Commission plan operations
	SavePlan(ctx context.Context, tenantID string, plan *CommissionPlan) error
	GetPlan(ctx context.Context, tenantID string, planID string) (*CommissionPlan, error)
	ListActivePlans(ctx context.Context, tenantID string) ([]*CommissionPlan, error)

	// Commission rule operations
	SaveRule(ctx context.Context, tenantID string, rule *CommissionRule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*CommissionRule, error)
	ListRulesByPlan(ctx context.Context, tenantID string, planID string) ([]*CommissionRule, error)
	ListRules(ctx context.Context, tenantID string) ([]*CommissionRule, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Commission results. SaveCommission enforces at most one commission
	// per transaction and returns ErrDuplicateCommission on conflict.
	SaveCommission(ctx context.Context, tenantID string, c *Commission) error
	UpdateCommission(ctx context.Context, tenantID string, c *Commission) error
	GetCommission(ctx context.Context, tenantID string, commissionID string) (*Commission, error)
	GetCommissionByTransaction(ctx context.Context, tenantID string, txID string) (*Commission, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
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
