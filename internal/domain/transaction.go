package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleTransaction is a stored sales transaction awaiting (or holding) a
// commission calculation.
type SaleTransaction struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	GrossAmount decimal.Decimal `json:"grossAmount"`
	NetAmount   decimal.Decimal `json:"netAmount"`
	Currency    string          `json:"currency"`

	TransactionDate time.Time `json:"transactionDate"`

	CustomerTier      string `json:"customerTier,omitempty"`
	ProductCategoryID string `json:"productCategoryId,omitempty"`
	TerritoryID       string `json:"territoryId,omitempty"`
	ClientID          string `json:"clientId,omitempty"`
	ProjectID         string `json:"projectId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TransactionContext is the immutable snapshot of a sale's attributes at
// calculation time. It is constructed once per calculation and never
// mutated, so later edits to the underlying sale do not retroactively alter
// a stored trace.
type TransactionContext struct {
	TransactionID string `json:"transactionId"`
	TenantID      string `json:"tenantId"`

	GrossAmount decimal.Decimal `json:"grossAmount"`
	NetAmount   decimal.Decimal `json:"netAmount"`
	Currency    string          `json:"currency"`

	TransactionDate time.Time `json:"transactionDate"`

	CustomerTier      string `json:"customerTier,omitempty"`
	ProductCategoryID string `json:"productCategoryId,omitempty"`
	TerritoryID       string `json:"territoryId,omitempty"`
	ClientID          string `json:"clientId,omitempty"`
	ProjectID         string `json:"projectId,omitempty"`
}

// NewTransactionContext snapshots a sale for calculation.
func NewTransactionContext(tx *SaleTransaction) *TransactionContext {
	return &TransactionContext{
		TransactionID:     tx.ID,
		TenantID:          tx.TenantID,
		GrossAmount:       tx.GrossAmount,
		NetAmount:         tx.NetAmount,
		Currency:          tx.Currency,
		TransactionDate:   tx.TransactionDate,
		CustomerTier:      tx.CustomerTier,
		ProductCategoryID: tx.ProductCategoryID,
		TerritoryID:       tx.TerritoryID,
		ClientID:          tx.ClientID,
		ProjectID:         tx.ProjectID,
	}
}

// BasisAmount returns the amount commissions are computed against for the
// given plan basis.
func (c *TransactionContext) BasisAmount(basis CommissionBasis) decimal.Decimal {
	if basis == BasisNet {
		return c.NetAmount
	}
	return c.GrossAmount
}

// QualifierFor returns the transaction's value for a rule scope's
// qualifying dimension.
func (c *TransactionContext) QualifierFor(scope RuleScope) string {
	switch scope {
	case ScopeCustomerTier:
		return c.CustomerTier
	case ScopeProductCategory:
		return c.ProductCategoryID
	case ScopeTerritory:
		return c.TerritoryID
	case ScopeCustomerSpecific:
		return c.ClientID
	default:
		return ""
	}
}
