// Package pricing turns metered units into USD cost.
package pricing

import "github.com/toolgate/toolgate/internal/catalog"

// Estimate returns the USD cost of consuming units of a tool. Prices go down
// to 1e-7 USD per unit, so callers must keep at least micro-dollar precision.
func Estimate(tool *catalog.Tool, units int64) float64 {
	return tool.CostPerUnit * float64(units)
}
