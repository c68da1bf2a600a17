// Package capacity enforces per-route consumption caps across hourly, daily
// and lifetime windows using a reserve / commit / release protocol.
//
// Reserve increments every capped window of a route at once or none of
// them. Commit finalizes a held reservation without touching counters.
// Release gives the capacity back. A reservation still HELD after its TTL is
// released by ReapExpired, so capacity is never held indefinitely.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lead-router/internal/domain"
)

// Sentinel errors for the capacity tracker.
var (
	ErrCapacityExceeded   = errors.New("route capacity exceeded")
	ErrReservationNotHeld = errors.New("reservation is not held")
)

// DefaultTTL bounds how long a reservation may stay HELD.
const DefaultTTL = 2 * time.Minute

// Tracker is implemented by MemoryTracker and RedisTracker.
type Tracker interface {
	// Reserve takes one unit of every capped window for route or fails with
	// ErrCapacityExceeded without changing any counter.
	Reserve(ctx context.Context, route domain.Route, leadID string) (*domain.Reservation, error)
	// Commit moves a HELD reservation to COMMITTED.
	Commit(ctx context.Context, res *domain.Reservation) error
	// Release decrements the reservation's window buckets and marks it RELEASED.
	Release(ctx context.Context, res *domain.Reservation) error
	// Extend pushes a HELD reservation's deadline to now+TTL.
	Extend(ctx context.Context, res *domain.Reservation) error
	// Usage reports current-bucket counts for each capped window of route.
	Usage(ctx context.Context, route domain.Route) ([]domain.WindowSnapshot, error)
	// ReapExpired releases every HELD reservation past its deadline.
	ReapExpired(ctx context.Context) (int, error)
}

// snapshotWindows returns the capped windows of route at time now.
func snapshotWindows(route domain.Route, now time.Time) []domain.WindowSnapshot {
	var out []domain.WindowSnapshot
	for _, w := range domain.Windows {
		limit, ok := route.Caps.For(w)
		if !ok {
			continue
		}
		out = append(out, domain.WindowSnapshot{Window: w, Bucket: w.Bucket(now), Cap: limit})
	}
	return out
}

func exceeded(routeID string, w domain.Window, limit int64) error {
	return fmt.Errorf("%w: route %s %s cap %d", ErrCapacityExceeded, routeID, w, limit)
}
