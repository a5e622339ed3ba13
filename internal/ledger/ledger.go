// Package ledger owns the append-only usage event log and the derived
// per-period aggregate counters the policy evaluator reads.
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrAggregateNotFound = errors.New("aggregate not found")

// Decision is the terminal outcome recorded on a usage event.
type Decision string

const (
	DecisionAllowed    Decision = "allowed"
	DecisionDenied     Decision = "denied"
	DecisionDowngraded Decision = "downgraded"
)

// PeriodType names a rolling counting window.
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodMonth PeriodType = "month"
)

// PeriodStart returns the UTC start of the window containing t. There is no
// reset process for counters: a new period begins the moment a timestamp
// crosses the boundary.
func PeriodStart(period PeriodType, t time.Time) time.Time {
	t = t.UTC()
	switch period {
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// PeriodEnd returns the exclusive end of the window beginning at start.
func PeriodEnd(period PeriodType, start time.Time) time.Time {
	if period == PeriodMonth {
		return start.AddDate(0, 1, 0)
	}
	return start.Add(24 * time.Hour)
}

// MetadataKind tags which variant of event metadata is populated.
type MetadataKind string

const (
	MetaAllowed    MetadataKind = "allowed"
	MetaDenied     MetadataKind = "denied"
	MetaDowngraded MetadataKind = "downgraded"
)

// Metadata is a closed tagged variant instead of a free-form map, so the
// ledger schema stays checkable. Exactly one constructor below should be used
// per decision.
type Metadata struct {
	Kind         MetadataKind   `json:"kind"`
	Reason       string         `json:"reason,omitempty"`
	OriginalTool string         `json:"original_tool,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
}

func AllowedMetadata(params map[string]any) Metadata {
	return Metadata{Kind: MetaAllowed, Params: params}
}

func DeniedMetadata(reason string) Metadata {
	return Metadata{Kind: MetaDenied, Reason: reason}
}

func DowngradedMetadata(originalTool, reason string) Metadata {
	return Metadata{Kind: MetaDowngraded, OriginalTool: originalTool, Reason: reason}
}

// UsageEvent is an immutable fact recorded once per routed request. Denied
// requests are recorded with zero cost and units.
type UsageEvent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	ToolID    string    `json:"tool_id"`
	Units     int64     `json:"units"`
	CostUSD   float64   `json:"cost_usd"`
	Decision  Decision  `json:"decision"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// AggregateKey identifies one counter row.
type AggregateKey struct {
	TenantID    string
	UserID      string
	ToolID      string
	Period      PeriodType
	PeriodStart time.Time
}

// Key builds the aggregate key for the window containing t.
func Key(tenantID, userID, toolID string, period PeriodType, t time.Time) AggregateKey {
	return AggregateKey{
		TenantID:    tenantID,
		UserID:      userID,
		ToolID:      toolID,
		Period:      period,
		PeriodStart: PeriodStart(period, t),
	}
}

// Aggregate is the derived running total for one key. total_cost equals the
// sum of costs of allowed/downgraded events in the window, modulo the
// recorder's eventual consistency.
type Aggregate struct {
	AggregateKey
	TotalUnits int64
	TotalCost  float64
	UpdatedAt  time.Time
}

type Store interface {
	AppendEvent(ctx context.Context, event *UsageEvent) error
	// IncrementAggregate must be a single atomic insert-or-add against the
	// backing store; a read-then-write pair loses updates under concurrency.
	IncrementAggregate(ctx context.Context, key AggregateKey, costDelta float64, unitsDelta int64) error
	GetAggregate(ctx context.Context, key AggregateKey) (*Aggregate, error)
	// SumSpend recomputes spend from raw allowed/downgraded events in [from, to).
	SumSpend(ctx context.Context, tenantID, userID, toolID string, from, to time.Time) (costUSD float64, units int64, err error)
	ListEventsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error)
	TotalCostByTenant(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
}

// Ledger is the read side used during policy evaluation.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// CurrentSpend returns the accumulated cost for the window containing at.
// The aggregate row is authoritative; scanning raw events is only a fallback
// for keys that have never been incremented.
func (l *Ledger) CurrentSpend(ctx context.Context, tenantID, userID, toolID string, period PeriodType, at time.Time) (float64, error) {
	key := Key(tenantID, userID, toolID, period, at)

	agg, err := l.store.GetAggregate(ctx, key)
	if err == nil {
		return agg.TotalCost, nil
	}
	if !errors.Is(err, ErrAggregateNotFound) {
		return 0, err
	}

	cost, _, err := l.store.SumSpend(ctx, tenantID, userID, toolID, key.PeriodStart, PeriodEnd(period, key.PeriodStart))
	if err != nil {
		return 0, err
	}
	return cost, nil
}
