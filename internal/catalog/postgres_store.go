package catalog

import (
	"context"
	"errors"
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

func (s *PostgresStore) Get(ctx context.Context, toolID string) (*Tool, error) {
	query := `
		SELECT id, name, category, tier, cost_per_unit, unit_type, created_at
		FROM tools
		WHERE id = $1
	`

	var t Tool
	err := s.db.QueryRow(ctx, query, toolID).Scan(
		&t.ID, &t.Name, &t.Category, &t.Tier, &t.CostPerUnit, &t.UnitType, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrToolNotFound
		}
		return nil, fmt.Errorf("failed to get tool: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) CheapestAlternative(ctx context.Context, category, excludeID string) (*Tool, error) {
	query := `
		SELECT id, name, category, tier, cost_per_unit, unit_type, created_at
		FROM tools
		WHERE category = $1 AND id != $2
		ORDER BY cost_per_unit ASC
		LIMIT 1
	`

	var t Tool
	err := s.db.QueryRow(ctx, query, category, excludeID).Scan(
		&t.ID, &t.Name, &t.Category, &t.Tier, &t.CostPerUnit, &t.UnitType, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrToolNotFound
		}
		return nil, fmt.Errorf("failed to find alternative tool: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) Create(ctx context.Context, tool *Tool) error {
	query := `
		INSERT INTO tools (id, name, category, tier, cost_per_unit, unit_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query,
		tool.ID, tool.Name, tool.Category, tool.Tier, tool.CostPerUnit, tool.UnitType,
	).Scan(&tool.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tool: %w", err)
	}

	return nil
}
