// Package postgres implements the engine's repository interfaces over
// PostgreSQL using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/lead-router/internal/domain"
)

// CatalogRepo implements catalog.Source and catalog.Writer.
type CatalogRepo struct{ db *sql.DB }

// NewCatalogRepo creates a Postgres-backed catalog repository.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

func (r *CatalogRepo) LoadVerticals(ctx context.Context) ([]domain.Vertical, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, version, fields, dedupe_keys
		FROM lead_verticals
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("load verticals: %w", err)
	}
	defer rows.Close()

	var out []domain.Vertical
	for rows.Next() {
		var v domain.Vertical
		var fields, keys []byte
		if err := rows.Scan(&v.Name, &v.Version, &fields, &keys); err != nil {
			return nil, fmt.Errorf("scan vertical: %w", err)
		}
		if err := json.Unmarshal(fields, &v.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", v.Name, err)
		}
		if len(keys) > 0 {
			if err := json.Unmarshal(keys, &v.DedupeKeys); err != nil {
				return nil, fmt.Errorf("decode dedupe keys of %s: %w", v.Name, err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) SaveVertical(ctx context.Context, v domain.Vertical) error {
	fields, err := json.Marshal(v.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	keys, err := json.Marshal(v.DedupeKeys)
	if err != nil {
		return fmt.Errorf("encode dedupe keys: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lead_verticals (name, version, fields, dedupe_keys, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name) DO UPDATE SET version = $2, fields = $3, dedupe_keys = $4, updated_at = NOW()
	`, v.Name, v.Version, fields, keys)
	if err != nil {
		return fmt.Errorf("save vertical: %w", err)
	}
	return nil
}

func (r *CatalogRepo) LoadRoutes(ctx context.Context) ([]domain.Route, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, vertical, endpoint_url, endpoint_token, filter, price, priority,
		       cap_hourly, cap_daily, cap_lifetime, active
		FROM lead_routes
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	defer rows.Close()

	var out []domain.Route
	for rows.Next() {
		var rt domain.Route
		var filter []byte
		var hourly, daily, lifetime sql.NullInt64
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Vertical, &rt.Endpoint.URL, &rt.Endpoint.Token,
			&filter, &rt.Price, &rt.Priority, &hourly, &daily, &lifetime, &rt.Active); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		if len(filter) > 0 {
			rt.Filter = &domain.Filter{}
			if err := json.Unmarshal(filter, rt.Filter); err != nil {
				return nil, fmt.Errorf("decode filter of route %s: %w", rt.ID, err)
			}
		}
		rt.Caps = domain.Caps{Hourly: nullableInt(hourly), Daily: nullableInt(daily), Lifetime: nullableInt(lifetime)}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) SaveRoute(ctx context.Context, rt domain.Route) error {
	var filter []byte
	if rt.Filter != nil {
		var err error
		if filter, err = json.Marshal(rt.Filter); err != nil {
			return fmt.Errorf("encode filter: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_routes (id, name, vertical, endpoint_url, endpoint_token, filter, price, priority,
		                         cap_hourly, cap_daily, cap_lifetime, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = $2, vertical = $3, endpoint_url = $4, endpoint_token = $5, filter = $6, price = $7,
			priority = $8, cap_hourly = $9, cap_daily = $10, cap_lifetime = $11, active = $12, updated_at = NOW()
	`, rt.ID, rt.Name, rt.Vertical, rt.Endpoint.URL, rt.Endpoint.Token, filter, rt.Price, rt.Priority,
		nullInt(rt.Caps.Hourly), nullInt(rt.Caps.Daily), nullInt(rt.Caps.Lifetime), rt.Active)
	if err != nil {
		return fmt.Errorf("save route: %w", err)
	}
	return nil
}

func (r *CatalogRepo) DeleteRoute(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM lead_routes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete route: %w", err)
	}
	return nil
}

func nullableInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
