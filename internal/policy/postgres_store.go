package policy

import (
	"context"
	"fmt"

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

func (s *PostgresStore) ListApplicable(ctx context.Context, tenantID, userID, toolID string) ([]*Policy, error) {
	// Specificity ordering lives here so the evaluator can simply iterate.
	query := `
		SELECT id, tenant_id, scope, COALESCE(scope_id, ''), limit_type, limit_value, decision, COALESCE(fallback_tool_id, ''), created_at
		FROM policies
		WHERE tenant_id = $1
		  AND (scope = 'tenant'
		    OR (scope = 'user' AND scope_id = $2)
		    OR (scope = 'tool' AND scope_id = $3))
		ORDER BY CASE scope WHEN 'tool' THEN 0 WHEN 'user' THEN 1 ELSE 2 END, created_at
	`
	rows, err := s.db.Query(ctx, query, tenantID, userID, toolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		var p Policy
		err := rows.Scan(
			&p.ID, &p.TenantID, &p.Scope, &p.ScopeID,
			&p.LimitType, &p.LimitValue, &p.Decision, &p.FallbackToolID, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}

	return policies, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	query := `
		INSERT INTO policies (tenant_id, scope, scope_id, limit_type, limit_value, decision, fallback_tool_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''))
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		p.TenantID, p.Scope, p.ScopeID,
		p.LimitType, p.LimitValue, p.Decision, p.FallbackToolID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}

	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, policyID string) error {
	query := `DELETE FROM policies WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, policyID)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}

	return nil
}
