package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/pkg/logger"
)

// Source loads the externally managed catalog configuration.
type Source interface {
	LoadVerticals(ctx context.Context) ([]domain.Vertical, error)
	LoadRoutes(ctx context.Context) ([]domain.Route, error)
}

// Refresher periodically republishes the catalog from a Source.
type Refresher struct {
	catalog  *Catalog
	source   Source
	interval time.Duration
}

// NewRefresher creates a refresher.
func NewRefresher(c *Catalog, source Source, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{catalog: c, source: source, interval: interval}
}

// Refresh loads and publishes the catalog once. On a load failure the
// previous snapshot stays in place.
func (r *Refresher) Refresh(ctx context.Context) error {
	verticals, err := r.source.LoadVerticals(ctx)
	if err != nil {
		return fmt.Errorf("failed to load verticals: %w", err)
	}
	routes, err := r.source.LoadRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	n, err := r.catalog.Replace(verticals, routes)
	if err != nil {
		logger.Warn("catalog refresh registered verticals with conflicts", "error", err)
	}
	logger.Debug("catalog refreshed", "verticals", len(verticals), "routes", n)
	return nil
}

// Start refreshes every interval until ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				logger.Error("catalog refresh failed", "error", err)
			}
		}
	}
}
