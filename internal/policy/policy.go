// Package policy holds budget policy records and the evaluator that decides
// whether a priced tool call may proceed.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrPolicyNotFound = errors.New("policy not found")

// Scope determines which requests a policy applies to. Tenant-scope policies
// apply to every request of the tenant; user/tool scopes only when scope_id
// matches the request.
type Scope string

const (
	ScopeTenant Scope = "tenant"
	ScopeUser   Scope = "user"
	ScopeTool   Scope = "tool"
)

// LimitType names the counting window a limit is measured against.
// per_request limits are measured against the daily window.
type LimitType string

const (
	LimitDaily      LimitType = "daily"
	LimitMonthly    LimitType = "monthly"
	LimitPerRequest LimitType = "per_request"
)

// Decision is the action taken when a policy's limit would be breached.
type Decision string

const (
	DecisionAllow          Decision = "allow"
	DecisionDeny           Decision = "deny"
	DecisionDowngrade      Decision = "downgrade"
	DecisionRequireApprove Decision = "require_approval"
)

type Policy struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Scope          Scope     `json:"scope"`
	ScopeID        string    `json:"scope_id,omitempty"` // required iff scope != tenant
	LimitType      LimitType `json:"limit_type"`
	LimitValue     float64   `json:"limit_value"` // USD
	Decision       Decision  `json:"decision"`
	FallbackToolID string    `json:"fallback_tool_id,omitempty"` // required iff decision == downgrade
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks structural invariants at write time. The evaluator assumes
// stored policies passed these checks.
func (p *Policy) Validate() error {
	switch p.Scope {
	case ScopeTenant:
		if p.ScopeID != "" {
			return fmt.Errorf("tenant-scope policy must not carry a scope_id")
		}
	case ScopeUser, ScopeTool:
		if p.ScopeID == "" {
			return fmt.Errorf("%s-scope policy requires a scope_id", p.Scope)
		}
	default:
		return fmt.Errorf("unknown scope %q", p.Scope)
	}

	switch p.LimitType {
	case LimitDaily, LimitMonthly, LimitPerRequest:
	default:
		return fmt.Errorf("unknown limit_type %q", p.LimitType)
	}

	if p.LimitValue < 0 {
		return fmt.Errorf("limit_value must not be negative")
	}

	switch p.Decision {
	case DecisionAllow, DecisionDeny, DecisionRequireApprove:
		if p.FallbackToolID != "" {
			return fmt.Errorf("fallback_tool_id only applies to downgrade policies")
		}
	case DecisionDowngrade:
		if p.FallbackToolID == "" {
			return fmt.Errorf("downgrade policy requires a fallback_tool_id")
		}
	default:
		return fmt.Errorf("unknown decision %q", p.Decision)
	}

	return nil
}

type Store interface {
	// ListApplicable returns the tenant's policies matching the request,
	// ordered by scope specificity: tool > user > tenant.
	ListApplicable(ctx context.Context, tenantID, userID, toolID string) ([]*Policy, error)
	Create(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, policyID string) error
}
