//go:build integration
// +build integration

// Package integration provides end-to-end tests for the CommissionFlow
// calculation pipeline against a running server:
//
//	Sale → Plan resolution → Rule precedence → Calculation → Trace
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The tests create their own plan and rules through the API, so they only
// need a clean server with an empty (or throwaway) database:
//
//	CFLOW_TEST_URL=http://localhost:8080 go test -tags=integration ./tests/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("CFLOW_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		// A fresh tenant per run keeps reruns independent.
		TenantID: fmt.Sprintf("itest-%d", time.Now().UnixNano()),
	}
}

type CalculateRequest struct {
	TransactionID   string `json:"transactionId,omitempty"`
	GrossAmount     string `json:"grossAmount"`
	NetAmount       string `json:"netAmount,omitempty"`
	Currency        string `json:"currency"`
	CustomerTier    string `json:"customerTier,omitempty"`
	TerritoryID     string `json:"territoryId,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	ProjectID       string `json:"projectId,omitempty"`
	TransactionDate string `json:"transactionDate,omitempty"`
}

type CalculateResponse struct {
	CommissionID  string `json:"commissionId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	EffectiveRate string `json:"effectiveRate"`
	PlanID        string `json:"planId"`
	RuleID        string `json:"ruleId"`
	Metadata      struct {
		TraceID string `json:"traceId"`
		Version string `json:"version"`
	} `json:"metadata"`
}

func doRequest(t *testing.T, config TestConfig, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}

	req, err := http.NewRequest(method, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", config.TenantID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed (is the server running?): %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp, data
}

func createPlan(t *testing.T, config TestConfig) string {
	t.Helper()

	resp, data := doRequest(t, config, http.MethodPost, "/plans", map[string]any{
		"name":            "Integration Plan",
		"commissionBasis": "GROSS",
		"isActive":        true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create plan: expected 201, got %d: %s", resp.StatusCode, data)
	}

	var plan struct {
		ID string `json:"id"`
	}
	json.Unmarshal(data, &plan)
	return plan.ID
}

func createRule(t *testing.T, config TestConfig, rule map[string]any) string {
	t.Helper()

	resp, data := doRequest(t, config, http.MethodPost, "/rules", rule)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", resp.StatusCode, data)
	}

	var created struct {
		Rule struct {
			ID string `json:"id"`
		} `json:"rule"`
	}
	json.Unmarshal(data, &created)
	return created.Rule.ID
}

func TestCalculationPipeline(t *testing.T) {
	config := getTestConfig()
	planID := createPlan(t, config)

	createRule(t, config, map[string]any{
		"planId": planID, "name": "Standard 10%", "enabled": true,
		"ruleType": "PERCENTAGE", "percentage": "10", "scope": "GLOBAL",
	})
	createRule(t, config, map[string]any{
		"planId": planID, "name": "Gold 12%", "enabled": true,
		"ruleType": "PERCENTAGE", "percentage": "12",
		"scope": "CUSTOMER_TIER", "customerTier": "GOLD",
	})

	t.Run("GlobalFallback", func(t *testing.T) {
		resp, data := doRequest(t, config, http.MethodPost, "/calculate", CalculateRequest{
			TransactionID: "itest-txn-1",
			GrossAmount:   "5000",
			Currency:      "USD",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", resp.StatusCode, data)
		}

		var result CalculateResponse
		json.Unmarshal(data, &result)
		if result.Status != "CALCULATED" {
			t.Errorf("expected CALCULATED, got %s", result.Status)
		}
		if result.Amount != "500" {
			t.Errorf("expected 500, got %s", result.Amount)
		}
	})

	t.Run("TierRuleOutranksGlobal", func(t *testing.T) {
		resp, data := doRequest(t, config, http.MethodPost, "/calculate", CalculateRequest{
			TransactionID: "itest-txn-2",
			GrossAmount:   "5000",
			Currency:      "USD",
			CustomerTier:  "GOLD",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", resp.StatusCode, data)
		}

		var result CalculateResponse
		json.Unmarshal(data, &result)
		if result.Amount != "600" {
			t.Errorf("expected 600 (12%% GOLD rate), got %s", result.Amount)
		}
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		resp, _ := doRequest(t, config, http.MethodPost, "/calculate", CalculateRequest{
			TransactionID: "itest-txn-1",
			GrossAmount:   "5000",
			Currency:      "USD",
		})
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("expected 409 for duplicate, got %d", resp.StatusCode)
		}
	})

	t.Run("ExplainReadsBack", func(t *testing.T) {
		resp, data := doRequest(t, config, http.MethodPost, "/calculate", CalculateRequest{
			TransactionID: "itest-txn-3",
			GrossAmount:   "1000",
			Currency:      "USD",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", resp.StatusCode)
		}

		var result CalculateResponse
		json.Unmarshal(data, &result)

		resp, text := doRequest(t, config, http.MethodGet, "/commissions/"+result.CommissionID+"/explain", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("explain: expected 200, got %d", resp.StatusCode)
		}
		if !bytes.Contains(text, []byte("Commission calculation")) {
			t.Errorf("unexpected explanation: %s", text)
		}
	})
}

func TestAdjustmentLifecycle(t *testing.T) {
	config := getTestConfig()
	planID := createPlan(t, config)
	createRule(t, config, map[string]any{
		"planId": planID, "name": "Standard 10%", "enabled": true,
		"ruleType": "PERCENTAGE", "percentage": "10", "scope": "GLOBAL",
	})

	resp, data := doRequest(t, config, http.MethodPost, "/calculate", CalculateRequest{
		TransactionID: "itest-adj-1",
		GrossAmount:   "5000",
		Currency:      "USD",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, data)
	}
	var result CalculateResponse
	json.Unmarshal(data, &result)

	resp, data = doRequest(t, config, http.MethodPost,
		"/commissions/"+result.CommissionID+"/adjustments", map[string]any{
			"type":   "RETURN",
			"amount": "-100",
			"reason": "integration test return",
		})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("adjust: expected 201, got %d: %s", resp.StatusCode, data)
	}

	var adjusted struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	}
	json.Unmarshal(data, &adjusted)
	if adjusted.Status != "ADJUSTED" {
		t.Errorf("expected ADJUSTED, got %s", adjusted.Status)
	}
	if adjusted.Amount != "400" {
		t.Errorf("expected 400, got %s", adjusted.Amount)
	}
}

func TestSkippedSaleIsFlagged(t *testing.T) {
	config := getTestConfig()
	// No plan for this tenant.

	resp, data := doRequest(t, config, http.MethodPost, "/calculate", CalculateRequest{
		TransactionID: "itest-skip-1",
		GrossAmount:   "5000",
		Currency:      "USD",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, data)
	}

	var result CalculateResponse
	json.Unmarshal(data, &result)
	if result.Status != "SKIPPED_NO_PLAN" {
		t.Errorf("expected SKIPPED_NO_PLAN, got %s", result.Status)
	}
	if result.Amount != "0" {
		t.Errorf("expected 0, got %s", result.Amount)
	}
}

func TestHealth(t *testing.T) {
	config := getTestConfig()

	resp, data := doRequest(t, config, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	json.Unmarshal(data, &health)
	if health.Status == "" {
		t.Errorf("expected a status, got %s", data)
	}
}
