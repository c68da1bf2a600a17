package matcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ignite/lead-router/internal/capacity"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRoutes []domain.Route

func (s staticRoutes) CandidatesFor(v string) []domain.Route {
	var out []domain.Route
	for _, r := range s {
		if r.Vertical == v && r.Active {
			out = append(out, r)
		}
	}
	return out
}

func mkRoute(id string, priority int, price int64) domain.Route {
	return domain.Route{ID: id, Vertical: "auto_insurance", Priority: priority, Price: decimal.NewFromInt(price), Active: true}
}

func lead(fields map[string]any) *domain.Lead {
	return &domain.Lead{ID: "lead-1", Vertical: "auto_insurance", Fields: fields}
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Route.ID
	}
	return out
}

func TestMatch_PriorityTieBrokenByPrice(t *testing.T) {
	tr := capacity.NewMemoryTracker(time.Minute)
	m := New(staticRoutes{mkRoute("cheap", 5, 8), mkRoute("rich", 5, 10)}, tr, 2)

	got, err := m.Match(context.Background(), lead(map[string]any{"zip": "94107"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"rich", "cheap"}, ids(got))
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(10)))
	for _, c := range got {
		require.NotNil(t, c.Reservation)
		assert.Equal(t, domain.ReservationHeld, c.Reservation.State)
	}
}

func TestRank_TotalOrder(t *testing.T) {
	cs := []Candidate{
		{Route: mkRoute("c", 1, 5), Price: decimal.NewFromInt(5)},
		{Route: mkRoute("b", 9, 1), Price: decimal.NewFromInt(1)},
		{Route: mkRoute("a", 1, 5), Price: decimal.NewFromInt(5)},
		{Route: mkRoute("d", 1, 7), Price: decimal.NewFromInt(7)},
	}
	Rank(cs)
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(cs))
}

func TestMatch_FilterFailureDoesNotReserve(t *testing.T) {
	tr := capacity.NewMemoryTracker(time.Minute)
	limit := int64(1)
	adult := mkRoute("adult", 1, 10)
	adult.Caps.Daily = &limit
	minAge := float64(18)
	adult.Filter = &domain.Filter{Kind: domain.FilterRange, Field: "age", Min: &minAge}

	m := New(staticRoutes{adult}, tr, 0)
	_, err := m.Match(context.Background(), lead(map[string]any{"age": int64(16)}))
	assert.ErrorIs(t, err, ErrNoMatch)

	usage, _ := tr.Usage(context.Background(), adult)
	assert.Equal(t, int64(0), usage[0].Count)
}

func TestMatch_CapacityExhaustedIsNoMatch(t *testing.T) {
	tr := capacity.NewMemoryTracker(time.Minute)
	zero := int64(0)
	full := mkRoute("full", 1, 10)
	full.Caps.Daily = &zero

	_, err := New(staticRoutes{full}, tr, 0).Match(context.Background(), lead(nil))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatch_NoRoutes(t *testing.T) {
	_, err := New(staticRoutes{}, capacity.NewMemoryTracker(time.Minute), 0).Match(context.Background(), lead(nil))
	assert.ErrorIs(t, err, ErrNoMatch)
}

type failingTracker struct {
	*capacity.MemoryTracker
	failOn string
}

func (f failingTracker) Reserve(ctx context.Context, r domain.Route, leadID string) (*domain.Reservation, error) {
	if r.ID == f.failOn {
		return nil, errors.New("redis unavailable")
	}
	return f.MemoryTracker.Reserve(ctx, r, leadID)
}

func TestMatch_TrackerErrorReleasesEverything(t *testing.T) {
	mem := capacity.NewMemoryTracker(time.Minute)
	var routes staticRoutes
	for i := 0; i < 10; i++ {
		routes = append(routes, mkRoute(fmt.Sprintf("r%d", i), 1, 1))
	}
	m := New(routes, failingTracker{MemoryTracker: mem, failOn: "r5"}, 1)

	_, err := m.Match(context.Background(), lead(nil))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatch)
	for _, r := range routes {
		assert.Zero(t, mem.Held(r.ID), "route %s must not keep a hold", r.ID)
	}
}

func TestMatch_CanceledContextReleases(t *testing.T) {
	mem := capacity.NewMemoryTracker(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(staticRoutes{mkRoute("a", 1, 1)}, mem, 0).Match(ctx, lead(nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mem.Held("a"))
}
