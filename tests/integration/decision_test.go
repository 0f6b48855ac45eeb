//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel decision engine.
//
// These tests verify the COMPLETE decision pipeline against a running server:
//
//	Transaction → Enrichment → Rules → Aggregation → Scoring → Decision → Alert
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: One payment event for a player or card session
//
// 2. RULE: A configurable detection pattern. Each rule has:
//   - Conditions: Typed field comparisons, combined with OR semantics
//   - Expression: An optional CEL formula evaluated alongside conditions
//   - Action: approve < log < flag < review < block
//
// 3. SCORING: A weighted additive heuristic over amount, velocity,
//    entity history, time of day, geography and blacklists. The
//    composite is clamped to [0,1]; score > 0.6 → review, > 0.4 → flag.
//
// 4. FRAUD: Duplicate same-amount transactions inside 60s block the
//    transaction outright; >10 transactions per minute raises the
//    fraud probability to 0.7.
//
// 5. DECISION: The terminal verdict with full audit trail. Scores at or
//    above 0.7, blocks and fraud hits also emit an alert.
//
// The tests run against a fresh server with NO seeded rules unless a
// scenario creates them itself via POST /rules.
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

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// TransactionRequest is the payload sent to POST /transactions
type TransactionRequest struct {
	Amount    float64        `json:"amount"`
	Currency  string         `json:"currency"`
	CardBIN   string         `json:"cardBin,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	PlayerID  string         `json:"playerId,omitempty"`
	Country   string         `json:"country,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DecisionResponse is what POST /transactions returns
type DecisionResponse struct {
	ID        string  `json:"id"`
	TxID      string  `json:"txId"`
	EntityKey string  `json:"entityKey"`
	Status    string  `json:"status"`
	Score     float64 `json:"score"`
	Action    string  `json:"action"`

	Assessment struct {
		Explanation string `json:"explanation"`
		Fraud       struct {
			IsFraudulent bool    `json:"isFraudulent"`
			Probability  float64 `json:"probability"`
		} `json:"fraud"`
	} `json:"assessment"`

	Warnings []string `json:"warnings"`

	Metadata struct {
		TraceID       string `json:"traceId"`
		TotalMs       int64  `json:"totalMs"`
		EngineVersion string `json:"engineVersion"`
	} `json:"metadata"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func submit(t *testing.T, config TestConfig, req TransactionRequest) DecisionResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result DecisionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func post(t *testing.T, config TestConfig, path string, payload any) *http.Response {
	t.Helper()

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal payload: %v", err)
		}
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

// ============================================================================
// SCENARIO 1: Normal Transaction (Approved)
// ============================================================================

func TestNormalTransaction_Approved(t *testing.T) {
	/*
	   SCENARIO: A routine $500 wager from a home-country player

	   EXPECTED BEHAVIOR:
	   - Amount well under the $100,000 cap → no amount factor
	   - First transaction for the entity → no velocity or history signal
	   - No rules seeded → rule engine contributes nothing

	   FINAL DECISION: approve, status "approved", near-zero score
	*/
	config := getTestConfig()

	result := submit(t, config, TransactionRequest{
		Amount:   500.00,
		Currency: "USD",
		PlayerID: fmt.Sprintf("player-normal-%d", time.Now().UnixNano()),
		Country:  "US",
	})

	if result.Action != "approve" {
		t.Errorf("Expected approve, got %s", result.Action)
	}
	if result.Status != "approved" {
		t.Errorf("Expected approved status, got %s", result.Status)
	}
	if result.Score > 0.4 {
		t.Errorf("Expected low score (<= 0.4), got %.2f", result.Score)
	}

	t.Logf("✓ Normal transaction approved: action=%s, score=%.2f", result.Action, result.Score)
}

// ============================================================================
// SCENARIO 2: Amount Over the Hard Cap (Forced Review)
// ============================================================================

func TestOverCapTransaction_ForcedReview(t *testing.T) {
	/*
	   SCENARIO: A $150,000 transaction, above the $100,000 hard cap

	   EXPECTED BEHAVIOR:
	   - amount_exceeds_cap factor fires (+0.4)
	   - The composite alone may stay under the review threshold, but an
	     over-cap amount forces at least review regardless

	   FINAL DECISION: review or worse, status "review"
	*/
	config := getTestConfig()

	result := submit(t, config, TransactionRequest{
		Amount:   150000.00,
		Currency: "USD",
		PlayerID: fmt.Sprintf("player-overcap-%d", time.Now().UnixNano()),
		Country:  "US",
	})

	if result.Action != "review" && result.Action != "block" {
		t.Errorf("Expected at least review for over-cap amount, got %s", result.Action)
	}

	t.Logf("✓ Over-cap transaction held: action=%s, score=%.2f", result.Action, result.Score)
}

// ============================================================================
// SCENARIO 3: Boundary Testing (Exactly at the Cap)
// ============================================================================

func TestExactCap_NotForced(t *testing.T) {
	/*
	   SCENARIO: Transaction of exactly $100,000

	   EXPECTED BEHAVIOR:
	   - The cap check is strictly greater than: $100,000 is NOT > $100,000
	   - The half-cap factor fires instead (+0.2), which alone is below
	     the flag threshold

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in threshold logic.
	*/
	config := getTestConfig()

	result := submit(t, config, TransactionRequest{
		Amount:   100000.00,
		Currency: "USD",
		PlayerID: fmt.Sprintf("player-boundary-%d", time.Now().UnixNano()),
		Country:  "US",
	})

	if result.Action == "review" || result.Action == "block" {
		t.Errorf("Expected no forced hold at exactly the cap, got %s", result.Action)
	}

	t.Logf("✓ Boundary test passed: $100,000 exactly → action=%s, score=%.2f", result.Action, result.Score)
}

// ============================================================================
// SCENARIO 4: Duplicate Transaction (Fraud Block)
// ============================================================================

func TestDuplicateTransaction_Blocked(t *testing.T) {
	/*
	   SCENARIO: The same player submits the same amount twice within 60s

	   EXPECTED BEHAVIOR:
	   - First transaction approves normally
	   - Second transaction matches the duplicate window → fraud check
	     fires with probability 0.85 → block

	   WHY THIS MATTERS:
	   Duplicate amounts in rapid succession are the classic signature of
	   replayed or double-submitted payments.
	*/
	config := getTestConfig()

	playerID := fmt.Sprintf("player-dup-%d", time.Now().UnixNano())
	req := TransactionRequest{
		Amount:   750.00,
		Currency: "USD",
		PlayerID: playerID,
		Country:  "US",
	}

	first := submit(t, config, req)
	if first.Action != "approve" {
		t.Fatalf("Expected first transaction approved, got %s", first.Action)
	}

	second := submit(t, config, req)

	if second.Action != "block" {
		t.Errorf("Expected duplicate to block, got %s", second.Action)
	}
	if !second.Assessment.Fraud.IsFraudulent {
		t.Error("Expected fraud flag on duplicate")
	}
	if second.Assessment.Fraud.Probability < 0.85 {
		t.Errorf("Expected fraud probability >= 0.85, got %.2f", second.Assessment.Fraud.Probability)
	}

	t.Logf("✓ Duplicate blocked: action=%s, fraud p=%.2f", second.Action, second.Assessment.Fraud.Probability)
}

// ============================================================================
// SCENARIO 5: Rule-Driven Decision
// ============================================================================

func TestSeededRule_DrivesAction(t *testing.T) {
	/*
	   SCENARIO: Seed a rule holding transactions over $10,000 for review,
	   then submit $25,000

	   EXPECTED BEHAVIOR:
	   - POST /rules installs the rule into the live engine immediately
	   - The rule triggers and its action merges into the decision via
	     most-severe-wins

	   FINAL DECISION: review
	*/
	config := getTestConfig()

	ruleID := fmt.Sprintf("itest-high-value-%d", time.Now().UnixNano())
	rule := map[string]any{
		"id":       ruleID,
		"name":     "integration high value",
		"priority": 100,
		"isActive": true,
		"action":   "review",
		"conditions": []map[string]string{
			{"field": "amount", "operator": "greaterThan", "value": "10000", "type": "number"},
		},
	}

	resp := post(t, config, "/rules", rule)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 creating rule, got %d", resp.StatusCode)
	}

	defer func() {
		req, _ := http.NewRequest("DELETE", config.BaseURL+"/rules/"+ruleID, nil)
		req.Header.Set("X-Tenant-ID", config.TenantID)
		if resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	result := submit(t, config, TransactionRequest{
		Amount:   25000.00,
		Currency: "USD",
		PlayerID: fmt.Sprintf("player-rule-%d", time.Now().UnixNano()),
		Country:  "US",
	})

	if result.Action != "review" {
		t.Errorf("Expected rule-driven review, got %s", result.Action)
	}

	t.Logf("✓ Seeded rule drove the decision: action=%s, score=%.2f", result.Action, result.Score)
}

// ============================================================================
// SCENARIO 6: Alert Emission and Retrieval
// ============================================================================

func TestBlockedTransaction_EmitsAlert(t *testing.T) {
	/*
	   SCENARIO: Produce a block via the duplicate check, then read it
	   back from GET /alerts

	   EXPECTED BEHAVIOR:
	   - The block emits a critical alert into the bounded sink
	   - GET /alerts?entity=... returns it newest first
	*/
	config := getTestConfig()

	playerID := fmt.Sprintf("player-alert-%d", time.Now().UnixNano())
	req := TransactionRequest{
		Amount:   321.00,
		Currency: "USD",
		PlayerID: playerID,
		Country:  "US",
	}
	submit(t, config, req)
	blocked := submit(t, config, req)
	if blocked.Action != "block" {
		t.Fatalf("Setup failed: expected block, got %s", blocked.Action)
	}

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/alerts?entity=player:"+playerID, nil)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Alerts []struct {
			Severity string `json:"severity"`
			TxID     string `json:"txId"`
		} `json:"alerts"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode alerts: %v", err)
	}

	if body.Count != 1 {
		t.Fatalf("Expected 1 alert for entity, got %d", body.Count)
	}
	if body.Alerts[0].Severity != "critical" {
		t.Errorf("Expected critical severity, got %s", body.Alerts[0].Severity)
	}
	if body.Alerts[0].TxID != blocked.TxID {
		t.Errorf("Expected alert for blocked transaction %s, got %s", blocked.TxID, body.Alerts[0].TxID)
	}

	t.Logf("✓ Block emitted alert: severity=%s", body.Alerts[0].Severity)
}

// ============================================================================
// SCENARIO 7: Input Validation
// ============================================================================

func TestMissingEntityIdentifier_Error(t *testing.T) {
	/*
	   SCENARIO: Request without playerId, cardBin or sessionId

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp := post(t, config, "/transactions", TransactionRequest{
		Amount:   100,
		Currency: "USD",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing entity identifier, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing entity identifier → HTTP %d", resp.StatusCode)
}

func TestNegativeAmount_Error(t *testing.T) {
	/*
	   SCENARIO: Request with a negative amount

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp := post(t, config, "/transactions", TransactionRequest{
		Amount:   -50,
		Currency: "USD",
		PlayerID: "player-negative-001",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative amount, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: negative amount → HTTP %d", resp.StatusCode)
}

func TestMissingTenantHeader_Error(t *testing.T) {
	/*
	   SCENARIO: Request without X-Tenant-ID header

	   EXPECTED: HTTP 400 Bad Request (tenant is a required field, not auth)
	*/
	config := getTestConfig()

	body, _ := json.Marshal(TransactionRequest{
		Amount:   100,
		Currency: "USD",
		PlayerID: "player-notenant-001",
	})
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/transactions", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	// NO X-Tenant-ID header!

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing tenant, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing tenant → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 8: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify the decision includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := submit(t, config, TransactionRequest{
		Amount:   100,
		Currency: "USD",
		PlayerID: fmt.Sprintf("player-metadata-%d", time.Now().UnixNano()),
		Country:  "US",
	})

	if result.ID == "" {
		t.Error("Missing decision id")
	}
	if result.TxID == "" {
		t.Error("Missing txId")
	}
	if result.EntityKey == "" {
		t.Error("Missing entityKey")
	}
	if result.Score < 0 || result.Score > 1 {
		t.Errorf("Score out of range: %.2f (expected 0-1)", result.Score)
	}
	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}
	if result.Metadata.EngineVersion == "" {
		t.Error("Missing metadata.engineVersion")
	}
	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}
	if result.Assessment.Explanation == "" {
		t.Error("Missing assessment explanation")
	}

	t.Logf("✓ Metadata complete: decisionId=%s, txId=%s, engine=%s, totalMs=%d",
		result.ID, result.TxID, result.Metadata.EngineVersion, result.Metadata.TotalMs)
}
