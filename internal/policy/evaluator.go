package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/toolgate/toolgate/internal/ledger"
)

// UsageReader is the slice of the ledger the evaluator needs: the accumulated
// spend for one (tenant, user, tool, window) key.
type UsageReader interface {
	CurrentSpend(ctx context.Context, tenantID, userID, toolID string, period ledger.PeriodType, at time.Time) (float64, error)
}

// Result reports the evaluation outcome together with the limit and usage it
// was measured against, so callers can compute remaining budget.
type Result struct {
	Allowed       bool
	Reason        string
	SuggestedTool string // set when a downgrade policy fired
	CurrentUsage  float64
	Limit         float64 // math.Inf(1) when no policy applies
}

// Evaluator resolves applicable policies in specificity order and projects
// the estimated cost against each one's counting window.
type Evaluator struct {
	policies Store
	usage    UsageReader
	now      func() time.Time
}

func NewEvaluator(policies Store, usage UsageReader) *Evaluator {
	return &Evaluator{
		policies: policies,
		usage:    usage,
		now:      time.Now,
	}
}

// window maps a limit type to the window its spend is counted in.
// per_request limits are measured against the daily window, so a
// per_request limit of 0 trips on every use of the scope.
func window(lt LimitType) ledger.PeriodType {
	if lt == LimitMonthly {
		return ledger.PeriodMonth
	}
	return ledger.PeriodDay
}

// Evaluate checks every applicable policy in specificity order (tool > user >
// tenant). Evaluation does not stop at the first non-breaching policy: all are
// projected, and the first whose decision fires wins. A breached allow policy
// never blocks. When nothing breaches, the most specific policy's limit and
// usage are reported.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID, userID, toolID string, estimatedCost float64) (*Result, error) {
	policies, err := e.policies.ListApplicable(ctx, tenantID, userID, toolID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	if len(policies) == 0 {
		return &Result{
			Allowed: true,
			Reason:  "no policy defined",
			Limit:   math.Inf(1),
		}, nil
	}

	now := e.now()

	var reported *Result
	for _, p := range policies {
		current, err := e.usage.CurrentSpend(ctx, tenantID, userID, toolID, window(p.LimitType), now)
		if err != nil {
			return nil, fmt.Errorf("failed to read current usage: %w", err)
		}

		// Most specific policy comes first; its numbers are what a
		// non-breaching pass reports.
		if reported == nil {
			reported = &Result{
				Allowed:      true,
				Reason:       "within budget",
				CurrentUsage: current,
				Limit:        p.LimitValue,
			}
		}

		projected := current + estimatedCost
		if projected <= p.LimitValue {
			continue
		}

		switch p.Decision {
		case DecisionAllow:
			// Non-blocking by definition, keep checking.
			continue
		case DecisionDeny:
			return &Result{
				Allowed: false,
				Reason: fmt.Sprintf("%s limit of $%.2f exceeded (current $%.4f, projected $%.4f)",
					p.LimitType, p.LimitValue, current, projected),
				CurrentUsage: current,
				Limit:        p.LimitValue,
			}, nil
		case DecisionDowngrade:
			return &Result{
				Allowed: true,
				Reason: fmt.Sprintf("%s limit of $%.2f exceeded, downgrading to %s",
					p.LimitType, p.LimitValue, p.FallbackToolID),
				SuggestedTool: p.FallbackToolID,
				CurrentUsage:  current,
				Limit:         p.LimitValue,
			}, nil
		case DecisionRequireApprove:
			return &Result{
				Allowed: false,
				Reason: fmt.Sprintf("request exceeds %s limit of $%.2f and requires manual approval",
					p.LimitType, p.LimitValue),
				CurrentUsage: current,
				Limit:        p.LimitValue,
			}, nil
		}
	}

	return reported, nil
}
