package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	query := `
		SELECT id, name, plan, soft_limit_usd, hard_limit_usd, created_at
		FROM tenants
		WHERE id = $1
	`

	var t Tenant
	err := s.db.QueryRow(ctx, query, tenantID).Scan(
		&t.ID, &t.Name, &t.Plan, &t.SoftLimitUSD, &t.HardLimitUSD, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	query := `
		INSERT INTO tenants (id, name, plan, soft_limit_usd, hard_limit_usd)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query,
		t.ID, t.Name, t.Plan, t.SoftLimitUSD, t.HardLimitUSD,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}
