package capacity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func capOf(n int64) *int64 { return &n }

func testRoute(id string, daily, hourly *int64) domain.Route {
	return domain.Route{ID: id, Vertical: "auto_insurance", Active: true, Caps: domain.Caps{Daily: daily, Hourly: hourly}}
}

func newRedisTracker(t *testing.T, clock *fakeClock) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTracker(client, time.Minute).WithClock(clock.Now), mr
}

// trackers runs fn against both implementations.
func trackers(t *testing.T, fn func(t *testing.T, tr Tracker, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)}
		fn(t, NewMemoryTracker(time.Minute).WithClock(clock.Now), clock)
	})
	t.Run("redis", func(t *testing.T) {
		clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)}
		tr, _ := newRedisTracker(t, clock)
		fn(t, tr, clock)
	})
}

func usageOf(t *testing.T, tr Tracker, route domain.Route, w domain.Window) int64 {
	t.Helper()
	snaps, err := tr.Usage(context.Background(), route)
	require.NoError(t, err)
	for _, s := range snaps {
		if s.Window == w {
			return s.Count
		}
	}
	return -1
}

func TestTracker_ReserveUpToCap(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, _ *fakeClock) {
		ctx := context.Background()
		route := testRoute("r1", capOf(2), nil)

		first, err := tr.Reserve(ctx, route, "lead-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ReservationHeld, first.State)
		require.Len(t, first.Windows, 1)
		assert.Equal(t, int64(1), first.Windows[0].Count)

		_, err = tr.Reserve(ctx, route, "lead-2")
		require.NoError(t, err)

		_, err = tr.Reserve(ctx, route, "lead-3")
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, int64(2), usageOf(t, tr, route, domain.WindowDaily))
	})
}

func TestTracker_ZeroCapAllowsNothing(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, _ *fakeClock) {
		_, err := tr.Reserve(context.Background(), testRoute("r0", capOf(0), nil), "lead-1")
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})
}

func TestTracker_UncappedRouteIsUnlimited(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, _ *fakeClock) {
		route := testRoute("free", nil, nil)
		for i := 0; i < 20; i++ {
			res, err := tr.Reserve(context.Background(), route, "lead")
			require.NoError(t, err)
			assert.Empty(t, res.Windows)
		}
	})
}

func TestTracker_AllOrNothingAcrossWindows(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, _ *fakeClock) {
		ctx := context.Background()
		route := testRoute("r2", capOf(5), capOf(1))

		_, err := tr.Reserve(ctx, route, "lead-1")
		require.NoError(t, err)

		// hourly is full, so daily must not be touched either
		_, err = tr.Reserve(ctx, route, "lead-2")
		require.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, int64(1), usageOf(t, tr, route, domain.WindowDaily))
		assert.Equal(t, int64(1), usageOf(t, tr, route, domain.WindowHourly))
	})
}

func TestTracker_ReleaseRestoresCounters(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, _ *fakeClock) {
		ctx := context.Background()
		route := testRoute("r3", capOf(1), capOf(1))

		res, err := tr.Reserve(ctx, route, "lead-1")
		require.NoError(t, err)
		require.NoError(t, tr.Release(ctx, res))
		assert.Equal(t, domain.ReservationReleased, res.State)
		assert.Equal(t, int64(0), usageOf(t, tr, route, domain.WindowDaily))
		assert.Equal(t, int64(0), usageOf(t, tr, route, domain.WindowHourly))

		assert.ErrorIs(t, tr.Release(ctx, res), ErrReservationNotHeld, "double release must not decrement twice")

		_, err = tr.Reserve(ctx, route, "lead-2")
		assert.NoError(t, err)
	})
}

func TestTracker_CommitKeepsCounters(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, _ *fakeClock) {
		ctx := context.Background()
		route := testRoute("r4", capOf(1), nil)

		res, err := tr.Reserve(ctx, route, "lead-1")
		require.NoError(t, err)
		require.NoError(t, tr.Commit(ctx, res))
		assert.Equal(t, domain.ReservationCommitted, res.State)

		assert.ErrorIs(t, tr.Release(ctx, res), ErrReservationNotHeld)
		assert.ErrorIs(t, tr.Commit(ctx, res), ErrReservationNotHeld)
		assert.Equal(t, int64(1), usageOf(t, tr, route, domain.WindowDaily))
	})
}

func TestTracker_ReapReleasesExpired(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, clock *fakeClock) {
		ctx := context.Background()
		route := testRoute("r5", capOf(1), nil)

		res, err := tr.Reserve(ctx, route, "lead-1")
		require.NoError(t, err)

		n, err := tr.ReapExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "nothing expired yet")

		clock.Advance(61 * time.Second)
		n, err = tr.ReapExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, int64(0), usageOf(t, tr, route, domain.WindowDaily))

		assert.ErrorIs(t, tr.Commit(ctx, res), ErrReservationNotHeld)
		assert.ErrorIs(t, tr.Extend(ctx, res), ErrReservationNotHeld)
	})
}

func TestTracker_ExtendDefersReap(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, clock *fakeClock) {
		ctx := context.Background()
		route := testRoute("r6", capOf(1), nil)

		res, err := tr.Reserve(ctx, route, "lead-1")
		require.NoError(t, err)

		clock.Advance(45 * time.Second)
		require.NoError(t, tr.Extend(ctx, res))
		clock.Advance(45 * time.Second)

		n, err := tr.ReapExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, tr.Commit(ctx, res))
	})
}

func TestTracker_ReleaseAfterWindowRollover(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, clock *fakeClock) {
		ctx := context.Background()
		route := testRoute("r7", nil, capOf(1))

		res, err := tr.Reserve(ctx, route, "lead-1")
		require.NoError(t, err)
		hourBucket := res.Windows[0].Bucket

		clock.Advance(40 * time.Minute)
		_, err = tr.Reserve(ctx, route, "lead-2")
		require.NoError(t, err, "new hour bucket has room")

		require.NoError(t, tr.Release(ctx, res))
		assert.Equal(t, hourBucket, res.Windows[0].Bucket)
		assert.Equal(t, int64(1), usageOf(t, tr, route, domain.WindowHourly), "release must not touch the new bucket")
	})
}

func TestTracker_ConcurrentReserveNeverExceedsCap(t *testing.T) {
	trackers(t, func(t *testing.T, tr Tracker, _ *fakeClock) {
		ctx := context.Background()
		const limit = 7
		route := testRoute("hot", capOf(limit), nil)

		var granted int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := tr.Reserve(ctx, route, "lead"); err == nil {
					atomic.AddInt32(&granted, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(limit), granted)
		assert.Equal(t, int64(limit), usageOf(t, tr, route, domain.WindowDaily))
	})
}

func TestMemoryTracker_PrunesRolledBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)}
	tr := NewMemoryTracker(time.Minute).WithClock(clock.Now)
	ctx := context.Background()
	route := testRoute("r8", nil, capOf(3))

	res, err := tr.Reserve(ctx, route, "lead-1")
	require.NoError(t, err)
	require.NoError(t, tr.Commit(ctx, res))

	clock.Advance(2 * time.Hour)
	_, err = tr.ReapExpired(ctx)
	require.NoError(t, err)

	rs := tr.route("r8")
	assert.Empty(t, rs.counts)
	assert.Zero(t, tr.Held("r8"))
}

func TestReaper_RunOnce(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)}
	tr, mr := newRedisTracker(t, clock)
	ctx := context.Background()
	route := testRoute("r9", capOf(1), nil)
	assert.False(t, mr.Exists(heldKey))

	_, err := tr.Reserve(ctx, route, "lead-1")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	reaper := NewReaper(tr, nil, time.Second)
	n, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, int64(0), usageOf(t, tr, route, domain.WindowDaily))
	assert.False(t, mr.Exists(heldKey), "reaped reservation must leave the held set")
}

func TestNewReaper_DefaultsIntervalBeforeLock(t *testing.T) {
	tr := NewMemoryTracker(time.Minute)

	r := NewReaper(tr, nil, 0)
	assert.Equal(t, 10*time.Second, r.interval)
	require.NotNil(t, r.lock)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
