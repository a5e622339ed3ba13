package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *UsageEvent) error {
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO usage_events (tenant_id, user_id, tool_id, units, cost_usd, decision, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = s.db.QueryRow(ctx, query,
		event.TenantID, event.UserID, event.ToolID,
		event.Units, event.CostUSD, event.Decision, meta,
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}

	return nil
}

// IncrementAggregate is the single conditional write that keeps concurrent
// requests against the same key from losing updates. The addition happens
// inside the statement, never in application code.
func (s *PostgresStore) IncrementAggregate(ctx context.Context, key AggregateKey, costDelta float64, unitsDelta int64) error {
	query := `
		INSERT INTO usage_aggregates (tenant_id, user_id, tool_id, period_type, period_start, total_units, total_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id, user_id, tool_id, period_type, period_start)
		DO UPDATE SET
			total_units = usage_aggregates.total_units + EXCLUDED.total_units,
			total_cost = usage_aggregates.total_cost + EXCLUDED.total_cost,
			updated_at = now()
	`
	_, err := s.db.Exec(ctx, query,
		key.TenantID, key.UserID, key.ToolID, key.Period, key.PeriodStart,
		unitsDelta, costDelta,
	)
	if err != nil {
		return fmt.Errorf("failed to increment aggregate: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetAggregate(ctx context.Context, key AggregateKey) (*Aggregate, error) {
	query := `
		SELECT total_units, total_cost, updated_at
		FROM usage_aggregates
		WHERE tenant_id = $1 AND user_id = $2 AND tool_id = $3 AND period_type = $4 AND period_start = $5
	`

	agg := Aggregate{AggregateKey: key}
	err := s.db.QueryRow(ctx, query,
		key.TenantID, key.UserID, key.ToolID, key.Period, key.PeriodStart,
	).Scan(&agg.TotalUnits, &agg.TotalCost, &agg.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAggregateNotFound
		}
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}

	return &agg, nil
}

func (s *PostgresStore) SumSpend(ctx context.Context, tenantID, userID, toolID string, from, to time.Time) (float64, int64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0), COALESCE(SUM(units), 0)
		FROM usage_events
		WHERE tenant_id = $1 AND user_id = $2 AND tool_id = $3
		  AND decision IN ('allowed', 'downgraded')
		  AND created_at >= $4 AND created_at < $5
	`

	var cost float64
	var units int64
	err := s.db.QueryRow(ctx, query, tenantID, userID, toolID, from, to).Scan(&cost, &units)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum usage events: %w", err)
	}

	return cost, units, nil
}

func (s *PostgresStore) ListEventsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error) {
	query := `
		SELECT id, tenant_id, user_id, tool_id, units, cost_usd, decision, metadata, created_at
		FROM usage_events
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []*UsageEvent
	for rows.Next() {
		var e UsageEvent
		var meta []byte
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.UserID, &e.ToolID,
			&e.Units, &e.CostUSD, &e.Decision, &meta, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage events: %w", err)
	}

	return events, nil
}

func (s *PostgresStore) TotalCostByTenant(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total float64
	err := s.db.QueryRow(ctx, query, tenantID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
