// Package catalog keeps the in-memory index of buyer routes per vertical.
//
// Readers get an immutable snapshot through CandidatesFor; writers build a
// new snapshot and publish it atomically, so the matcher never blocks on a
// configuration change.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/filter"
	"github.com/ignite/lead-router/internal/pkg/logger"
	"github.com/ignite/lead-router/internal/vertical"
)

// ErrRouteNotFound is returned when a route id is not in the catalog.
var ErrRouteNotFound = errors.New("route not found")

// Writer persists catalog configuration. It is optional; without one the
// catalog lives only in memory.
type Writer interface {
	SaveVertical(ctx context.Context, v domain.Vertical) error
	SaveRoute(ctx context.Context, r domain.Route) error
	DeleteRoute(ctx context.Context, id string) error
}

type snapshot struct {
	byID       map[string]domain.Route
	byVertical map[string][]domain.Route // active only
}

// Catalog is safe for concurrent use.
type Catalog struct {
	registry *vertical.Registry
	writer   Writer

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// New creates an empty catalog publishing verticals into registry.
func New(registry *vertical.Registry, writer Writer) *Catalog {
	c := &Catalog{registry: registry, writer: writer}
	c.current.Store(buildSnapshot(nil))
	return c
}

func buildSnapshot(routes map[string]domain.Route) *snapshot {
	s := &snapshot{
		byID:       make(map[string]domain.Route, len(routes)),
		byVertical: make(map[string][]domain.Route),
	}
	for id, r := range routes {
		s.byID[id] = r
		if r.Active {
			s.byVertical[r.Vertical] = append(s.byVertical[r.Vertical], r)
		}
	}
	for v := range s.byVertical {
		rs := s.byVertical[v]
		sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
	}
	return s
}

// CandidatesFor returns the active routes of a vertical. The returned slice
// must not be modified.
func (c *Catalog) CandidatesFor(verticalName string) []domain.Route {
	return c.current.Load().byVertical[verticalName]
}

// Route returns a route by id, active or not.
func (c *Catalog) Route(id string) (domain.Route, bool) {
	r, ok := c.current.Load().byID[id]
	return r, ok
}

// Routes lists every route, optionally restricted to one vertical, sorted by id.
func (c *Catalog) Routes(verticalName string) []domain.Route {
	s := c.current.Load()
	out := make([]domain.Route, 0, len(s.byID))
	for _, r := range s.byID {
		if verticalName == "" || r.Vertical == verticalName {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Verticals returns the registry backing this catalog.
func (c *Catalog) Verticals() *vertical.Registry {
	return c.registry
}

// UpsertVertical persists a vertical schema and then publishes it. A schema
// that fails to persist leaves the registry unchanged.
func (c *Catalog) UpsertVertical(ctx context.Context, v domain.Vertical) (domain.Vertical, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next, changed, err := c.registry.Prepare(v)
	if err != nil {
		return domain.Vertical{}, err
	}
	if c.writer != nil {
		if err := c.writer.SaveVertical(ctx, next); err != nil {
			return domain.Vertical{}, fmt.Errorf("failed to persist vertical %s: %w", next.Name, err)
		}
	}
	if changed {
		c.registry.Publish(next)
	}
	return next, nil
}

// ValidateRoute checks a route against the domain rules, its filter grammar
// and the registered vertical.
func (c *Catalog) ValidateRoute(r domain.Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := c.registry.Get(r.Vertical); !ok {
		return fmt.Errorf("%w: %s", vertical.ErrUnknownVertical, r.Vertical)
	}
	if err := filter.Validate(r.Filter); err != nil {
		return fmt.Errorf("route %s: %w", r.ID, err)
	}
	return nil
}

// UpsertRoute validates, persists and publishes a route. Upserting an
// unchanged route is harmless.
func (c *Catalog) UpsertRoute(ctx context.Context, r domain.Route) error {
	if err := c.ValidateRoute(r); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writer != nil {
		if err := c.writer.SaveRoute(ctx, r); err != nil {
			return fmt.Errorf("failed to persist route %s: %w", r.ID, err)
		}
	}
	next := c.copyRoutes()
	next[r.ID] = r
	c.current.Store(buildSnapshot(next))
	return nil
}

// RemoveRoute unpublishes a route. Removing an unknown route returns
// ErrRouteNotFound.
func (c *Catalog) RemoveRoute(ctx context.Context, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.copyRoutes()
	if _, ok := next[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	if c.writer != nil {
		if err := c.writer.DeleteRoute(ctx, id); err != nil {
			return fmt.Errorf("failed to delete route %s: %w", id, err)
		}
	}
	delete(next, id)
	c.current.Store(buildSnapshot(next))
	return nil
}

// Replace registers verticals and swaps in routes as the whole catalog. It
// does not write through to the Writer. Routes that fail validation are
// skipped and logged rather than failing the publish.
func (c *Catalog) Replace(verticals []domain.Vertical, routes []domain.Route) (int, error) {
	var errs []error
	for _, v := range verticals {
		if _, err := c.registry.Register(v); err != nil {
			errs = append(errs, err)
		}
	}

	next := make(map[string]domain.Route, len(routes))
	for _, r := range routes {
		if err := c.ValidateRoute(r); err != nil {
			logger.Warn("skipping invalid route", "route_id", r.ID, "error", err)
			continue
		}
		next[r.ID] = r
	}

	c.writeMu.Lock()
	c.current.Store(buildSnapshot(next))
	c.writeMu.Unlock()
	return len(next), errors.Join(errs...)
}

func (c *Catalog) copyRoutes() map[string]domain.Route {
	cur := c.current.Load().byID
	next := make(map[string]domain.Route, len(cur)+1)
	for id, r := range cur {
		next[id] = r
	}
	return next
}
