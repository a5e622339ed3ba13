package firewall

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/tenant"
)

// storeGuard wraps every persistence access in a circuit breaker. When the
// backing store keeps failing, the breaker opens and requests are denied
// immediately instead of piling up on a dead connection. Not-found sentinels
// are domain outcomes, not store failures, and never trip the breaker.
type storeGuard struct {
	cb *gobreaker.CircuitBreaker
}

func newStoreGuard() *storeGuard {
	settings := gobreaker.Settings{
		Name:        "store",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, catalog.ErrToolNotFound) ||
				errors.Is(err, tenant.ErrTenantNotFound)
		},
	}
	return &storeGuard{cb: gobreaker.NewCircuitBreaker(settings)}
}

func (g *storeGuard) Do(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
