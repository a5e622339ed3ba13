package pricing

import (
	"math"
	"testing"

	"github.com/toolgate/toolgate/internal/catalog"
)

func TestEstimate(t *testing.T) {
	tool := &catalog.Tool{ID: "gpt-4", CostPerUnit: 0.00003, UnitType: catalog.UnitTokens}

	got := Estimate(tool, 1000)
	if math.Abs(got-0.03) > 1e-9 {
		t.Errorf("Expected 0.03, got %v", got)
	}
}

func TestEstimate_ZeroUnits(t *testing.T) {
	tool := &catalog.Tool{ID: "web-search", CostPerUnit: 0.005, UnitType: catalog.UnitRequests}

	if got := Estimate(tool, 0); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

func TestEstimate_MicroDollarPrecision(t *testing.T) {
	// Price tables go down to 1e-7 per unit; the estimate must not round away
	// sub-cent costs.
	tool := &catalog.Tool{ID: "tiny", CostPerUnit: 1e-7, UnitType: catalog.UnitTokens}

	got := Estimate(tool, 3)
	if math.Abs(got-3e-7) > 1e-15 {
		t.Errorf("Expected 3e-7, got %v", got)
	}
}
