// Package matcher turns a validated lead into a ranked waterfall of routes,
// each holding a live capacity reservation.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ignite/lead-router/internal/capacity"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/filter"
	"github.com/ignite/lead-router/internal/pkg/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ErrNoMatch means no route passed both its filter and its capacity check.
var ErrNoMatch = errors.New("no eligible route")

// DefaultWorkers bounds concurrent filter/reserve work per lead.
const DefaultWorkers = 8

// Routes supplies the active candidates of a vertical.
type Routes interface {
	CandidatesFor(vertical string) []domain.Route
}

// Candidate is a ranked route with the price and reservation taken when
// the lead was matched.
type Candidate struct {
	Route       domain.Route
	Price       decimal.Decimal
	Reservation *domain.Reservation
}

// Matcher ranks eligible routes for a lead.
type Matcher struct {
	routes  Routes
	tracker capacity.Tracker
	workers int
}

// New creates a matcher. workers <= 0 uses DefaultWorkers.
func New(routes Routes, tracker capacity.Tracker, workers int) *Matcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Matcher{routes: routes, tracker: tracker, workers: workers}
}

// Match evaluates every active route of the lead's vertical, reserves
// capacity on the ones that pass, and orders them by priority desc, price
// desc, then route id asc. Every returned candidate carries a HELD
// reservation that the caller must commit or release. On error nothing
// stays reserved.
func (m *Matcher) Match(ctx context.Context, lead *domain.Lead) ([]Candidate, error) {
	routes := m.routes.CandidatesFor(lead.Vertical)
	if len(routes) == 0 {
		return nil, ErrNoMatch
	}

	slots := make([]*Candidate, len(routes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for i := range routes {
		i := i
		r := routes[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !filter.Evaluate(r.Filter, lead.Fields) {
				return nil
			}
			res, err := m.tracker.Reserve(gctx, r, lead.ID)
			if errors.Is(err, capacity.ErrCapacityExceeded) {
				logger.Debug("route at capacity", "route_id", r.ID, "lead_id", lead.ID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("reserve route %s: %w", r.ID, err)
			}
			slots[i] = &Candidate{Route: r, Price: r.Price, Reservation: res}
			return nil
		})
	}

	err := g.Wait()
	candidates := make([]Candidate, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		Release(ctx, m.tracker, candidates)
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoMatch
	}

	Rank(candidates)
	return candidates, nil
}

// Rank sorts candidates into waterfall order.
func Rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Route.Priority != b.Route.Priority {
			return a.Route.Priority > b.Route.Priority
		}
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c > 0
		}
		return a.Route.ID < b.Route.ID
	})
}

// Release returns every still-held reservation among candidates. It runs
// even when ctx is already canceled.
func Release(ctx context.Context, tracker capacity.Tracker, candidates []Candidate) {
	ctx = context.WithoutCancel(ctx)
	for _, c := range candidates {
		if c.Reservation == nil || c.Reservation.State != domain.ReservationHeld {
			continue
		}
		if err := tracker.Release(ctx, c.Reservation); err != nil && !errors.Is(err, capacity.ErrReservationNotHeld) {
			logger.Error("failed to release reservation",
				"reservation_id", c.Reservation.ID, "route_id", c.Route.ID, "error", err)
		}
	}
}
