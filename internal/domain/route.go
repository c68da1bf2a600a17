package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Window identifies a rolling consumption window for route caps.
type Window string

const (
	WindowHourly   Window = "hourly"
	WindowDaily    Window = "daily"
	WindowLifetime Window = "lifetime"
)

// Windows lists every window kind in evaluation order.
var Windows = []Window{WindowHourly, WindowDaily, WindowLifetime}

// Bucket returns the key of the window bucket containing t.
func (w Window) Bucket(t time.Time) string {
	t = t.UTC()
	switch w {
	case WindowHourly:
		return t.Format("2006010215")
	case WindowDaily:
		return t.Format("20060102")
	default:
		return "all"
	}
}

// Span returns how long a bucket of this window lives. Lifetime has no end.
func (w Window) Span() time.Duration {
	switch w {
	case WindowHourly:
		return time.Hour
	case WindowDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Caps holds optional per-window consumption limits. A nil cap is unlimited.
type Caps struct {
	Hourly   *int64 `json:"hourly,omitempty"`
	Daily    *int64 `json:"daily,omitempty"`
	Lifetime *int64 `json:"lifetime,omitempty"`
}

// For returns the cap configured for w.
func (c Caps) For(w Window) (int64, bool) {
	var p *int64
	switch w {
	case WindowHourly:
		p = c.Hourly
	case WindowDaily:
		p = c.Daily
	case WindowLifetime:
		p = c.Lifetime
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Endpoint describes where and how a buyer receives leads.
type Endpoint struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// Route is a buyer's standing configuration for a vertical.
type Route struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Vertical string          `json:"vertical"`
	Endpoint Endpoint        `json:"endpoint"`
	Filter   *Filter         `json:"filter,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Priority int             `json:"priority"`
	Caps     Caps            `json:"caps"`
	Active   bool            `json:"active"`
}

// Validate checks the invariants a route must satisfy before publishing.
func (r Route) Validate() error {
	if r.ID == "" {
		return ErrRouteIDRequired
	}
	if r.Vertical == "" {
		return ErrRouteVerticalRequired
	}
	if r.Price.IsNegative() {
		return ErrNegativePrice
	}
	for _, w := range Windows {
		if c, ok := r.Caps.For(w); ok && c < 0 {
			return ErrNegativeCap
		}
	}
	return nil
}
