package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrToolNotFound = errors.New("tool not found")

// PriceTier buckets tools by how expensive they are per unit. Plan gating
// works on tiers, not on raw prices.
type PriceTier string

const (
	TierCheap    PriceTier = "cheap"
	TierStandard PriceTier = "standard"
	TierPremium  PriceTier = "premium"
)

// UnitType is what a tool meters its usage in.
type UnitType string

const (
	UnitTokens   UnitType = "tokens"
	UnitRequests UnitType = "requests"
)

type Tool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Tier        PriceTier `json:"tier"`
	CostPerUnit float64   `json:"cost_per_unit"` // USD per unit, down to 1e-7
	UnitType    UnitType  `json:"unit_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (t *Tool) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (t *Tool) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}

type Store interface {
	Get(ctx context.Context, toolID string) (*Tool, error)
	// CheapestAlternative returns the lowest-cost tool in the category,
	// excluding excludeID. Returns ErrToolNotFound when the category has no
	// other tool.
	CheapestAlternative(ctx context.Context, category, excludeID string) (*Tool, error)
	Create(ctx context.Context, tool *Tool) error
}
