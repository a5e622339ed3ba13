package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/firewall"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/policy"
	"github.com/toolgate/toolgate/internal/tenant"
	"github.com/toolgate/toolgate/pkg/ratelimit"
)

// Mock Usage Store
type mockUsageStore struct {
	listFunc  func(ctx context.Context, tenantID string, from, to time.Time) ([]*ledger.UsageEvent, error)
	totalFunc func(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
}

func (m *mockUsageStore) ListEventsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*ledger.UsageEvent, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, tenantID, from, to)
	}
	return nil, nil
}

func (m *mockUsageStore) TotalCostByTenant(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	if m.totalFunc != nil {
		return m.totalFunc(ctx, tenantID, from, to)
	}
	return 0, nil
}

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

// Single-tool fixtures behind the firewall router.
type fixedTools struct{ tool *catalog.Tool }

func (f *fixedTools) Get(ctx context.Context, toolID string) (*catalog.Tool, error) {
	if f.tool != nil && f.tool.ID == toolID {
		return f.tool, nil
	}
	return nil, catalog.ErrToolNotFound
}

func (f *fixedTools) CheapestAlternative(ctx context.Context, category, excludeID string) (*catalog.Tool, error) {
	return nil, catalog.ErrToolNotFound
}

type fixedTenants struct{ t *tenant.Tenant }

func (f *fixedTenants) Get(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	if f.t != nil && f.t.ID == tenantID {
		return f.t, nil
	}
	return nil, tenant.ErrTenantNotFound
}

type noPolicies struct{}

func (noPolicies) ListApplicable(ctx context.Context, tenantID, userID, toolID string) ([]*policy.Policy, error) {
	return nil, nil
}
func (noPolicies) Create(ctx context.Context, p *policy.Policy) error { return nil }
func (noPolicies) Delete(ctx context.Context, id string) error       { return nil }

type zeroSpend struct{}

func (zeroSpend) CurrentSpend(ctx context.Context, tenantID, userID, toolID string, period ledger.PeriodType, at time.Time) (float64, error) {
	return 0, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(ctx context.Context, event *ledger.UsageEvent) error { return nil }

// Test Suite
func setupTest(limiterAllowed bool) (*Handler, *mockUsageStore) {
	tools := &fixedTools{tool: &catalog.Tool{
		ID: "gpt-4", Category: "llm", Tier: catalog.TierPremium,
		CostPerUnit: 0.00003, UnitType: catalog.UnitTokens,
	}}
	tenants := &fixedTenants{t: &tenant.Tenant{ID: "test-tenant", Name: "Test", Plan: tenant.PlanPro}}
	router := firewall.NewRouter(tools, tenants, policy.NewEvaluator(noPolicies{}, zeroSpend{}), nopRecorder{})

	usage := &mockUsageStore{}
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")

	return NewHandler(router, usage, limiter, tracer), usage
}

func TestHandleRoute_Unauthorized(t *testing.T) {
	h, _ := setupTest(true)
	req := httptest.NewRequest("POST", "/v1/route", nil)
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "unauthorized" {
		t.Errorf("Expected unauthorized error, got %v", resp["error"])
	}
}

func TestHandleRoute_InvalidBody(t *testing.T) {
	h, _ := setupTest(true)
	reqBody := strings.NewReader(`{invalid json}`)
	req := httptest.NewRequest("POST", "/v1/route", reqBody)
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "invalid request body" {
		t.Errorf("Expected invalid request body error, got %v", resp["error"])
	}
}

func TestHandleRoute_MissingToolID(t *testing.T) {
	h, _ := setupTest(true)
	reqBody, _ := json.Marshal(map[string]any{"user_id": "u1", "units": 100})
	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader(reqBody))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleRoute_NegativeUnits(t *testing.T) {
	h, _ := setupTest(true)
	reqBody, _ := json.Marshal(map[string]any{"user_id": "u1", "tool_id": "gpt-4", "units": -5})
	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader(reqBody))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleRoute_RateLimited(t *testing.T) {
	h, _ := setupTest(false)
	reqBody, _ := json.Marshal(map[string]any{"user_id": "u1", "tool_id": "gpt-4", "units": 100})
	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader(reqBody))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Errorf("Expected Retry-After header")
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "rate limit exceeded" {
		t.Errorf("Expected rate limit error, got %v", resp["error"])
	}
}

func TestHandleRoute_Allowed(t *testing.T) {
	h, _ := setupTest(true)
	reqBody, _ := json.Marshal(map[string]any{"user_id": "u1", "tool_id": "gpt-4", "units": 1000})
	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader(reqBody))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["decision"] != "allowed" {
		t.Errorf("Expected allowed decision, got %v", resp["decision"])
	}
	if resp["final_tool_used"] != "gpt-4" {
		t.Errorf("Expected gpt-4, got %v", resp["final_tool_used"])
	}
	// No policy defined, the budget is unbounded and serializes as null.
	if resp["remaining_budget"] != nil {
		t.Errorf("Expected null remaining_budget, got %v", resp["remaining_budget"])
	}
}

func TestHandleRoute_UnknownToolStill200(t *testing.T) {
	// Denials are decisions, not transport errors.
	h, _ := setupTest(true)
	reqBody, _ := json.Marshal(map[string]any{"user_id": "u1", "tool_id": "nope", "units": 10})
	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader(reqBody))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleRoute(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["decision"] != "denied" {
		t.Errorf("Expected denied decision, got %v", resp["decision"])
	}
}

func TestHandleUsage_Unauthorized(t *testing.T) {
	h, _ := setupTest(true)
	req := httptest.NewRequest("GET", "/v1/usage", nil)
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleUsage_Success(t *testing.T) {
	h, usage := setupTest(true)
	usage.listFunc = func(ctx context.Context, tenantID string, from, to time.Time) ([]*ledger.UsageEvent, error) {
		return []*ledger.UsageEvent{
			{TenantID: tenantID, UserID: "u1", ToolID: "gpt-4", Units: 1000, CostUSD: 0.03, Decision: ledger.DecisionAllowed},
			{TenantID: tenantID, UserID: "u1", ToolID: "gpt-4", Units: 0, CostUSD: 0, Decision: ledger.DecisionDenied},
		}, nil
	}
	usage.totalFunc = func(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
		return 0.03, nil
	}

	req := httptest.NewRequest("GET", "/v1/usage", nil)
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["tenant_id"] != "test-tenant" {
		t.Errorf("Expected test-tenant, got %v", resp["tenant_id"])
	}
	if resp["total_requests"].(float64) != 2 {
		t.Errorf("Expected 2 requests, got %v", resp["total_requests"])
	}
	if resp["total_cost_usd"].(float64) != 0.03 {
		t.Errorf("Expected total 0.03, got %v", resp["total_cost_usd"])
	}
}

func TestHandleUsage_DateRange(t *testing.T) {
	h, usage := setupTest(true)
	var gotFrom, gotTo time.Time
	usage.listFunc = func(ctx context.Context, tenantID string, from, to time.Time) ([]*ledger.UsageEvent, error) {
		gotFrom, gotTo = from, to
		return nil, nil
	}

	req := httptest.NewRequest("GET", "/v1/usage?from=2026-08-01T00:00:00Z&to=2026-08-31T00:00:00Z", nil)
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !gotFrom.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected from: %v", gotFrom)
	}
	if !gotTo.Equal(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected to: %v", gotTo)
	}
}

func TestHandleUsage_InvalidDate(t *testing.T) {
	h, _ := setupTest(true)
	req := httptest.NewRequest("GET", "/v1/usage?from=yesterday", nil)
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}
