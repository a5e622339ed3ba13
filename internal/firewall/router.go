// Package firewall composes tool and tenant lookup, plan-tier gating, cost
// estimation, policy evaluation, and the usage ledger into one request-scoped
// decision pipeline. Every failure path resolves to a denial: the firewall
// never allows by default.
package firewall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/policy"
	"github.com/toolgate/toolgate/internal/pricing"
	"github.com/toolgate/toolgate/internal/tenant"
)

type RouteRequest struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	ToolID   string         `json:"tool_id"`
	Units    int64          `json:"units"`
	Params   map[string]any `json:"params,omitempty"`
}

// Result is the stable caller-facing contract. Any transport exposing the
// engine must preserve this field set and vocabulary.
type Result struct {
	Decision        ledger.Decision `json:"decision"` // allowed | denied | downgraded
	FinalTool       string          `json:"final_tool_used"`
	CostEstimate    float64         `json:"cost_estimate"`
	RemainingBudget float64         `json:"remaining_budget"`
	Message         string          `json:"message"`
	Output          any             `json:"result,omitempty"`
}

// MarshalJSON renders an unbounded remaining budget (no policy defined) as
// null instead of an invalid infinity literal.
func (r *Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Decision        ledger.Decision `json:"decision"`
		FinalTool       string          `json:"final_tool_used"`
		CostEstimate    float64         `json:"cost_estimate"`
		RemainingBudget *float64        `json:"remaining_budget"`
		Message         string          `json:"message"`
		Output          any             `json:"result,omitempty"`
	}
	w := wire{
		Decision:     r.Decision,
		FinalTool:    r.FinalTool,
		CostEstimate: r.CostEstimate,
		Message:      r.Message,
		Output:       r.Output,
	}
	if !math.IsInf(r.RemainingBudget, 1) {
		rb := r.RemainingBudget
		w.RemainingBudget = &rb
	}
	return json.Marshal(w)
}

// ToolSource is what the pipeline needs from the tool catalog.
type ToolSource interface {
	Get(ctx context.Context, toolID string) (*catalog.Tool, error)
	CheapestAlternative(ctx context.Context, category, excludeID string) (*catalog.Tool, error)
}

// TenantSource resolves a tenant's plan.
type TenantSource interface {
	Get(ctx context.Context, tenantID string) (*tenant.Tenant, error)
}

// Evaluator is the policy evaluation step.
type Evaluator interface {
	Evaluate(ctx context.Context, tenantID, userID, toolID string, estimatedCost float64) (*policy.Result, error)
}

// Recorder durably records usage events and schedules aggregate updates.
type Recorder interface {
	Record(ctx context.Context, event *ledger.UsageEvent) error
}

type Router struct {
	tools     ToolSource
	tenants   TenantSource
	evaluator Evaluator
	recorder  Recorder
	guard     *storeGuard
}

func NewRouter(tools ToolSource, tenants TenantSource, evaluator Evaluator, recorder Recorder) *Router {
	return &Router{
		tools:     tools,
		tenants:   tenants,
		evaluator: evaluator,
		recorder:  recorder,
		guard:     newStoreGuard(),
	}
}

// planTiers lists which price tiers each plan may invoke.
var planTiers = map[tenant.Plan]map[catalog.PriceTier]bool{
	tenant.PlanFree:       {catalog.TierCheap: true, catalog.TierStandard: true},
	tenant.PlanPro:        {catalog.TierCheap: true, catalog.TierStandard: true, catalog.TierPremium: true},
	tenant.PlanEnterprise: {catalog.TierCheap: true, catalog.TierStandard: true, catalog.TierPremium: true},
}

// planPermits fails closed on unknown plans.
func planPermits(p tenant.Plan, t catalog.PriceTier) bool {
	tiers, ok := planTiers[p]
	if !ok {
		return false
	}
	return tiers[t]
}

func failClosed(toolID, msg string) *Result {
	return &Result{
		Decision:        ledger.DecisionDenied,
		FinalTool:       toolID,
		CostEstimate:    0,
		RemainingBudget: 0,
		Message:         msg,
	}
}

// Route runs the full decision pipeline for one request. It never returns an
// error: anything unexpected, including a panic, converts into a denial with
// cost 0 and remaining budget 0.
func (r *Router) Route(ctx context.Context, req *RouteRequest) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("firewall: panic during route: %v", rec)
			res = failClosed(req.ToolID, "internal error")
		}
	}()
	return r.route(ctx, req)
}

func (r *Router) route(ctx context.Context, req *RouteRequest) *Result {
	// Step 1: resolve the requested tool.
	var tool *catalog.Tool
	err := r.guard.Do(func() error {
		var err error
		tool, err = r.tools.Get(ctx, req.ToolID)
		return err
	})
	if errors.Is(err, catalog.ErrToolNotFound) {
		return failClosed(req.ToolID, fmt.Sprintf("tool %q not found", req.ToolID))
	}
	if err != nil {
		return failClosed(req.ToolID, fmt.Sprintf("tool lookup unavailable: %v", err))
	}

	var ten *tenant.Tenant
	err = r.guard.Do(func() error {
		var err error
		ten, err = r.tenants.Get(ctx, req.TenantID)
		return err
	})
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return failClosed(req.ToolID, fmt.Sprintf("tenant %q not found", req.TenantID))
	}
	if err != nil {
		return failClosed(req.ToolID, fmt.Sprintf("tenant lookup unavailable: %v", err))
	}

	// Step 2: plan-tier gate, strictly before any cost or policy work.
	// Gate outcomes record no usage event.
	if !planPermits(ten.Plan, tool.Tier) {
		var alt *catalog.Tool
		err = r.guard.Do(func() error {
			var err error
			alt, err = r.tools.CheapestAlternative(ctx, tool.Category, tool.ID)
			return err
		})
		if errors.Is(err, catalog.ErrToolNotFound) {
			return failClosed(req.ToolID, fmt.Sprintf(
				"plan %s does not permit %s-tier tools and no alternative exists in category %s",
				ten.Plan, tool.Tier, tool.Category))
		}
		if err != nil {
			return failClosed(req.ToolID, fmt.Sprintf("alternative lookup unavailable: %v", err))
		}
		return &Result{
			Decision:        ledger.DecisionDowngraded,
			FinalTool:       alt.ID,
			CostEstimate:    0,
			RemainingBudget: 0,
			Message: fmt.Sprintf("plan %s does not permit %s-tier tools, routed to %s",
				ten.Plan, tool.Tier, alt.ID),
		}
	}

	// Step 3: estimate cost for the requested tool.
	cost := pricing.Estimate(tool, req.Units)

	// Step 4: policy evaluation.
	var ev *policy.Result
	err = r.guard.Do(func() error {
		var err error
		ev, err = r.evaluator.Evaluate(ctx, req.TenantID, req.UserID, req.ToolID, cost)
		return err
	})
	if err != nil {
		return failClosed(req.ToolID, fmt.Sprintf("policy evaluation unavailable: %v", err))
	}

	// Step 5: blocked. Record a zero-cost event for the audit trail; a failed
	// append does not change the outcome, the request is denied either way.
	if !ev.Allowed {
		recErr := r.guard.Do(func() error {
			return r.recorder.Record(ctx, &ledger.UsageEvent{
				TenantID: req.TenantID,
				UserID:   req.UserID,
				ToolID:   req.ToolID,
				Units:    0,
				CostUSD:  0,
				Decision: ledger.DecisionDenied,
				Metadata: ledger.DeniedMetadata(ev.Reason),
			})
		})
		if recErr != nil {
			log.Printf("firewall: failed to record denied event: %v", recErr)
		}
		return &Result{
			Decision:        ledger.DecisionDenied,
			FinalTool:       req.ToolID,
			CostEstimate:    cost,
			RemainingBudget: ev.Limit - ev.CurrentUsage,
			Message:         ev.Reason,
		}
	}

	// Step 6: a policy suggested a cheaper fallback. Re-estimate against the
	// fallback's price and charge the requested units to the fallback tool.
	if ev.SuggestedTool != "" {
		var fallback *catalog.Tool
		err = r.guard.Do(func() error {
			var err error
			fallback, err = r.tools.Get(ctx, ev.SuggestedTool)
			return err
		})
		if err != nil {
			return failClosed(req.ToolID, fmt.Sprintf("fallback tool %q unavailable: %v", ev.SuggestedTool, err))
		}

		fbCost := pricing.Estimate(fallback, req.Units)
		err = r.guard.Do(func() error {
			return r.recorder.Record(ctx, &ledger.UsageEvent{
				TenantID: req.TenantID,
				UserID:   req.UserID,
				ToolID:   fallback.ID,
				Units:    req.Units,
				CostUSD:  fbCost,
				Decision: ledger.DecisionDowngraded,
				Metadata: ledger.DowngradedMetadata(req.ToolID, ev.Reason),
			})
		})
		if err != nil {
			return failClosed(req.ToolID, fmt.Sprintf("failed to record usage: %v", err))
		}

		return &Result{
			Decision:        ledger.DecisionDowngraded,
			FinalTool:       fallback.ID,
			CostEstimate:    fbCost,
			RemainingBudget: ev.Limit - ev.CurrentUsage - fbCost,
			Message:         ev.Reason,
		}
	}

	// Step 7: allowed.
	err = r.guard.Do(func() error {
		return r.recorder.Record(ctx, &ledger.UsageEvent{
			TenantID: req.TenantID,
			UserID:   req.UserID,
			ToolID:   req.ToolID,
			Units:    req.Units,
			CostUSD:  cost,
			Decision: ledger.DecisionAllowed,
			Metadata: ledger.AllowedMetadata(req.Params),
		})
	})
	if err != nil {
		return failClosed(req.ToolID, fmt.Sprintf("failed to record usage: %v", err))
	}

	return &Result{
		Decision:        ledger.DecisionAllowed,
		FinalTool:       req.ToolID,
		CostEstimate:    cost,
		RemainingBudget: ev.Limit - ev.CurrentUsage - cost,
		Message:         ev.Reason,
	}
}
