package domain

import "time"

// CommissionBasis selects the dollar figure percentages are computed against.
type CommissionBasis string

const (
	BasisGross CommissionBasis = "GROSS"
	BasisNet   CommissionBasis = "NET"
)

// CommissionPlan is a container of rules, optionally attached to a project.
// Rules of a project-attached plan outrank every scope-derived priority for
// transactions belonging to that project.
type CommissionPlan struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// ProjectID attaches the plan to a single project. Empty means the
	// plan applies tenant-wide.
	ProjectID string `json:"projectId,omitempty"`

	CommissionBasis CommissionBasis `json:"commissionBasis"`
	IsActive        bool            `json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
