package tenant

import (
	"context"
	"errors"
	"time"
)

var ErrTenantNotFound = errors.New("tenant not found")

// Plan identifies the pricing tier a tenant is on.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

type Tenant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Plan         Plan      `json:"plan"`
	SoftLimitUSD float64   `json:"soft_limit_usd"`
	HardLimitUSD float64   `json:"hard_limit_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	Create(ctx context.Context, t *Tenant) error
}
