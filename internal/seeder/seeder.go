package seeder

import (
	"context"
	"log"

	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/policy"
	"github.com/toolgate/toolgate/internal/tenant"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
)

// Stores bundles everything the seeder writes to.
type Stores struct {
	Tools    catalog.Store
	Tenants  tenant.Store
	Keys     auth.Store
	Policies policy.Store
}

var demoTools = []catalog.Tool{
	{ID: "gpt-4", Name: "GPT-4", Category: "llm", Tier: catalog.TierPremium, CostPerUnit: 0.00003, UnitType: catalog.UnitTokens},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Category: "llm", Tier: catalog.TierStandard, CostPerUnit: 0.0000015, UnitType: catalog.UnitTokens},
	{ID: "claude-haiku", Name: "Claude Haiku", Category: "llm", Tier: catalog.TierCheap, CostPerUnit: 0.00000025, UnitType: catalog.UnitTokens},
	{ID: "web-search", Name: "Web Search", Category: "search", Tier: catalog.TierStandard, CostPerUnit: 0.005, UnitType: catalog.UnitRequests},
}

// SeedDemo loads a demo catalog, tenant, API key, and a conservative default
// policy so a fresh deployment can route requests immediately.
func SeedDemo(ctx context.Context, stores Stores) {
	for i := range demoTools {
		t := demoTools[i]
		if err := stores.Tools.Create(ctx, &t); err != nil {
			log.Printf("[Seeder] tool %s may already exist, skipping: %v", t.ID, err)
		}
	}

	demoTenant := &tenant.Tenant{
		ID:           TestTenantID,
		Name:         "Demo Tenant",
		Plan:         tenant.PlanPro,
		SoftLimitUSD: 50,
		HardLimitUSD: 100,
	}
	if err := stores.Tenants.Create(ctx, demoTenant); err != nil {
		log.Printf("[Seeder] tenant may already exist, skipping: %v", err)
	}

	apiKey := &auth.APIKey{
		TenantID: TestTenantID,
		KeyHash:  auth.HashKey(TestAPIKey),
		Active:   true,
	}
	if err := stores.Keys.Create(ctx, apiKey); err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
	} else {
		log.Printf("[Seeder] Test API key created: %s (tenant %s)", TestAPIKey, TestTenantID)
	}

	defaultPolicy := &policy.Policy{
		TenantID:   TestTenantID,
		Scope:      policy.ScopeTenant,
		LimitType:  policy.LimitDaily,
		LimitValue: 50,
		Decision:   policy.DecisionDeny,
	}
	if err := stores.Policies.Create(ctx, defaultPolicy); err != nil {
		log.Printf("[Seeder] policy may already exist, skipping: %v", err)
	}
}
