package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Nikki72581/commissionflow-sub002/internal/commission"
	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
	"github.com/Nikki72581/commissionflow-sub002/internal/engine"
	"github.com/Nikki72581/commissionflow-sub002/internal/plans"
	"github.com/Nikki72581/commissionflow-sub002/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	service  *commission.Service
	resolver *plans.Resolver
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, service *commission.Service, resolver *plans.Resolver, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   eng,
		service:  service,
		resolver: resolver,
		version:  version,
	}
}

// CalculateRequest is the request body for POST /calculate.
type CalculateRequest struct {
	TransactionID string `json:"transactionId,omitempty"`

	GrossAmount decimal.Decimal `json:"grossAmount"`
	NetAmount   decimal.Decimal `json:"netAmount"`
	Currency    string          `json:"currency"`

	TransactionDate time.Time `json:"transactionDate,omitempty"`

	CustomerTier      string `json:"customerTier,omitempty"`
	ProductCategoryID string `json:"productCategoryId,omitempty"`
	TerritoryID       string `json:"territoryId,omitempty"`
	ClientID          string `json:"clientId,omitempty"`
	ProjectID         string `json:"projectId,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CalculateResponse is the response for POST /calculate.
type CalculateResponse struct {
	CommissionID  string          `json:"commissionId"`
	TransactionID string          `json:"transactionId"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveRate decimal.Decimal `json:"effectiveRate"`
	Currency      string          `json:"currency,omitempty"`
	PlanID        string          `json:"planId,omitempty"`
	RuleID        string          `json:"ruleId,omitempty"`

	Trace *domain.CommissionCalculationTrace `json:"trace,omitempty"`

	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Calculate handles POST /calculate: records the sale and runs the
// calculation synchronously.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !req.GrossAmount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "grossAmount must be positive",
		})
		return
	}
	if req.Currency == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "currency is required",
		})
		return
	}
	if req.NetAmount.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "netAmount must not be negative",
		})
		return
	}
	if req.NetAmount.IsZero() {
		req.NetAmount = req.GrossAmount
	}
	if req.TransactionDate.IsZero() {
		req.TransactionDate = time.Now().UTC()
	}

	txID := req.TransactionID
	if txID == "" {
		txID = uuid.New().String()
	}

	tx := &domain.SaleTransaction{
		ID:                txID,
		TenantID:          tenantID,
		GrossAmount:       req.GrossAmount,
		NetAmount:         req.NetAmount,
		Currency:          req.Currency,
		TransactionDate:   req.TransactionDate,
		CustomerTier:      req.CustomerTier,
		ProductCategoryID: req.ProductCategoryID,
		TerritoryID:       req.TerritoryID,
		ClientID:          req.ClientID,
		ProjectID:         req.ProjectID,
		CreatedAt:         time.Now().UTC(),
		Metadata:          req.Metadata,
	}

	if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	c, err := h.service.Calculate(ctx, tenantID, tx)
	if errors.Is(err, domain.ErrDuplicateCommission) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":      "commission already exists for transaction",
			"commission": c,
		})
		return
	}
	if err != nil {
		slog.Error("calculation failed", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "calculation failed",
		})
		return
	}

	resp := CalculateResponse{
		CommissionID:  c.ID,
		TransactionID: c.TransactionID,
		Status:        string(c.Status),
		Amount:        c.Amount,
		EffectiveRate: c.EffectiveRate,
		Currency:      c.Currency,
		PlanID:        c.PlanID,
		RuleID:        c.RuleID,
		Trace:         c.Trace,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusCreated, resp)
}

// RecordSale handles POST /sales: persists the sale and publishes it on the
// bus without calculating. The async worker picks it up.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !req.GrossAmount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "grossAmount must be positive",
		})
		return
	}
	if req.Currency == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "currency is required",
		})
		return
	}
	if req.NetAmount.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "netAmount must not be negative",
		})
		return
	}
	if req.NetAmount.IsZero() {
		req.NetAmount = req.GrossAmount
	}
	if req.TransactionDate.IsZero() {
		req.TransactionDate = time.Now().UTC()
	}

	tx := &domain.SaleTransaction{
		ID:                req.TransactionID,
		GrossAmount:       req.GrossAmount,
		NetAmount:         req.NetAmount,
		Currency:          req.Currency,
		TransactionDate:   req.TransactionDate,
		CustomerTier:      req.CustomerTier,
		ProductCategoryID: req.ProductCategoryID,
		TerritoryID:       req.TerritoryID,
		ClientID:          req.ClientID,
		ProjectID:         req.ProjectID,
		Metadata:          req.Metadata,
	}

	if err := h.service.RecordSale(ctx, tenantID, tx); err != nil {
		slog.Error("failed to record sale", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to record sale",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"transactionId": tx.ID,
		"status":        "RECORDED",
	})
}

// GetCommission retrieves a commission by ID.
func (h *Handler) GetCommission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	commissionID := chi.URLParam(r, "id")

	c, err := h.service.Get(ctx, tenantID, commissionID)
	if err != nil {
		writeNotFoundOrError(w, err, "commission not found")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ExplainCommission renders a commission's trace as plain text.
func (h *Handler) ExplainCommission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	commissionID := chi.URLParam(r, "id")

	text, err := h.service.Explain(ctx, tenantID, commissionID)
	if err != nil {
		writeNotFoundOrError(w, err, "commission not found")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// AdjustmentRequest is the request body for POST /commissions/{id}/adjustments.
type AdjustmentRequest struct {
	Type   domain.AdjustmentType `json:"type"`
	Amount decimal.Decimal       `json:"amount"`
	Reason string                `json:"reason"`
}

// CreateAdjustment appends a signed adjustment to a commission.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	commissionID := chi.URLParam(r, "id")

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch req.Type {
	case domain.AdjustmentReturn, domain.AdjustmentClawback, domain.AdjustmentOverride, domain.AdjustmentSplitCredit:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type must be one of RETURN, CLAWBACK, OVERRIDE, SPLIT_CREDIT",
		})
		return
	}
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reason is required",
		})
		return
	}

	c, err := h.service.Adjust(ctx, tenantID, commissionID, req.Type, req.Amount, req.Reason)
	if err != nil {
		writeNotFoundOrError(w, err, "commission not found")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// GetTransaction retrieves a sale transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeNotFoundOrError(w, err, "transaction not found")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns all rules for the tenant.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		writeNotFoundOrError(w, err, "rule not found")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and persists a commission rule. Validation failures
// are rejected with per-field errors; overlaps with existing rules are
// reported as informational conflicts, never a rejection.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.CommissionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.PlanID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "planId is required",
		})
		return
	}
	if rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	if result := h.engine.ValidateRule(&rule); !result.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "invalid rule configuration",
			"fields": result.Errors,
		})
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = tenantID
	if rule.Priority == "" {
		rule.Priority = engine.AssignPriority(rule.Scope)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	// Conflicts are advisory: recency already breaks precedence ties.
	var conflicts []domain.RuleConflict
	if existing, err := h.repo.ListRulesByPlan(ctx, tenantID, rule.PlanID); err == nil {
		conflicts = engine.DetectConflicts(&rule, existing)
	}

	if err := h.repo.SaveRule(ctx, tenantID, &rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	if err := h.resolver.InvalidateRules(ctx, tenantID, rule.PlanID); err != nil {
		slog.Warn("failed to invalidate rule cache", "plan_id", rule.PlanID, "error", err)
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "scope", string(rule.Scope))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":      rule,
		"conflicts": conflicts,
	})
}

// DeleteRule disables a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		writeNotFoundOrError(w, err, "rule not found")
		return
	}

	if err := h.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		writeNotFoundOrError(w, err, "rule not found")
		return
	}

	if err := h.resolver.InvalidateRules(ctx, tenantID, rule.PlanID); err != nil {
		slog.Warn("failed to invalidate rule cache", "plan_id", rule.PlanID, "error", err)
	}

	slog.Info("rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ValidateRule dry-runs rule validation without persisting anything.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.CommissionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result := h.engine.ValidateRule(&rule)
	writeJSON(w, http.StatusOK, result)
}

// ListPlans returns the tenant's active plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	activePlans, err := h.repo.ListActivePlans(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list plans", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list plans",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans": activePlans,
		"count": len(activePlans),
	})
}

// GetPlan retrieves a plan by ID.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	planID := chi.URLParam(r, "id")

	plan, err := h.repo.GetPlan(ctx, tenantID, planID)
	if err != nil {
		writeNotFoundOrError(w, err, "plan not found")
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// CreatePlan persists a commission plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var plan domain.CommissionPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if plan.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	switch plan.CommissionBasis {
	case "":
		plan.CommissionBasis = domain.BasisGross
	case domain.BasisGross, domain.BasisNet:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "commissionBasis must be GROSS or NET",
		})
		return
	}

	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	plan.TenantID = tenantID
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	if err := h.repo.SavePlan(ctx, tenantID, &plan); err != nil {
		slog.Error("failed to save plan", "id", plan.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save plan",
		})
		return
	}

	if err := h.resolver.InvalidatePlans(ctx, tenantID); err != nil {
		slog.Warn("failed to invalidate plan cache", "error", err)
	}

	slog.Info("plan created", "id", plan.ID, "name", plan.Name)
	writeJSON(w, http.StatusCreated, plan)
}

// PreviewRequest is the request body for POST /plans/{id}/preview.
// Either a bare basis amount (sums every rule in the plan) or a full
// transaction (runs the winner-take-all pipeline without persisting).
type PreviewRequest struct {
	BasisAmount *decimal.Decimal  `json:"basisAmount,omitempty"`
	Transaction *CalculateRequest `json:"transaction,omitempty"`
}

// PreviewPlan dry-runs a plan against a basis amount or sample transaction.
func (h *Handler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	planID := chi.URLParam(r, "id")

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch {
	case req.BasisAmount != nil:
		if _, err := h.repo.GetPlan(ctx, tenantID, planID); err != nil {
			writeNotFoundOrError(w, err, "plan not found")
			return
		}
		rules, err := h.repo.ListRulesByPlan(ctx, tenantID, planID)
		if err != nil {
			slog.Error("failed to list rules for preview", "plan_id", planID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load plan rules",
			})
			return
		}
		writeJSON(w, http.StatusOK, engine.Apply(*req.BasisAmount, rules))

	case req.Transaction != nil:
		tr := req.Transaction
		if tr.NetAmount.IsZero() {
			tr.NetAmount = tr.GrossAmount
		}
		tx := &domain.SaleTransaction{
			ID:                "preview",
			TenantID:          tenantID,
			GrossAmount:       tr.GrossAmount,
			NetAmount:         tr.NetAmount,
			Currency:          tr.Currency,
			TransactionDate:   tr.TransactionDate,
			CustomerTier:      tr.CustomerTier,
			ProductCategoryID: tr.ProductCategoryID,
			TerritoryID:       tr.TerritoryID,
			ClientID:          tr.ClientID,
			ProjectID:         tr.ProjectID,
		}
		trace, err := h.service.Preview(ctx, tenantID, planID, tx)
		if err != nil {
			writeNotFoundOrError(w, err, "plan not found")
			return
		}
		writeJSON(w, http.StatusOK, trace)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "basisAmount or transaction is required",
		})
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeNotFoundOrError maps repository lookups to 404 and everything else
// to 500.
func writeNotFoundOrError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": notFoundMsg,
		})
		return
	}
	slog.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}
