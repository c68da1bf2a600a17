//go:build property
// +build property

package capacity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ignite/lead-router/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestReserveNeverExceedsCap checks that for any cap K and N concurrent
// reservations exactly min(N, K) succeed.
func TestReserveNeverExceedsCap(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("granted reservations equal min(N, cap)", prop.ForAll(
		func(limit, attempts int) bool {
			tr := NewMemoryTracker(time.Minute)
			cap64 := int64(limit)
			route := domain.Route{ID: "prop", Caps: domain.Caps{Daily: &cap64, Lifetime: &cap64}}

			var mu sync.Mutex
			granted := 0
			var wg sync.WaitGroup
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := tr.Reserve(context.Background(), route, "lead"); err == nil {
						mu.Lock()
						granted++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			want := attempts
			if limit < want {
				want = limit
			}
			return granted == want
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t)
}

// TestReleaseRestoresUsage checks that releasing every reservation returns
// usage to zero regardless of how many were taken.
func TestReleaseRestoresUsage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("release of all holds yields zero usage", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			tr := NewMemoryTracker(time.Minute)
			limit := int64(100)
			route := domain.Route{ID: "prop", Caps: domain.Caps{Hourly: &limit, Daily: &limit}}

			var held []*domain.Reservation
			for i := 0; i < n; i++ {
				res, err := tr.Reserve(ctx, route, "lead")
				if err != nil {
					return false
				}
				held = append(held, res)
			}
			for _, res := range held {
				if err := tr.Release(ctx, res); err != nil {
					return false
				}
			}
			snaps, _ := tr.Usage(ctx, route)
			for _, s := range snaps {
				if s.Count != 0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
