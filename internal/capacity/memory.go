package capacity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/lead-router/internal/domain"
)

// routeState holds one route's counters and held reservations. Its mutex is
// the only lock taken on the reserve/commit/release path, so leads racing for
// different routes never contend.
type routeState struct {
	mu     sync.Mutex
	counts map[string]int64 // window:bucket -> committed + held
	holds  map[string]*domain.Reservation
}

// MemoryTracker is a process-local Tracker.
type MemoryTracker struct {
	mu     sync.RWMutex
	routes map[string]*routeState
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryTracker creates a tracker whose reservations expire after ttl.
func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTracker{
		routes: make(map[string]*routeState),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (m *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	m.now = now
	return m
}

func (m *MemoryTracker) route(id string) *routeState {
	m.mu.RLock()
	rs, ok := m.routes[id]
	m.mu.RUnlock()
	if ok {
		return rs
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok = m.routes[id]; !ok {
		rs = &routeState{counts: make(map[string]int64), holds: make(map[string]*domain.Reservation)}
		m.routes[id] = rs
	}
	return rs
}

func counterKey(w domain.Window, bucket string) string {
	return string(w) + ":" + bucket
}

// Reserve implements Tracker.
func (m *MemoryTracker) Reserve(_ context.Context, route domain.Route, leadID string) (*domain.Reservation, error) {
	now := m.now()
	windows := snapshotWindows(route, now)
	rs := m.route(route.ID)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, w := range windows {
		if rs.counts[counterKey(w.Window, w.Bucket)]+1 > w.Cap {
			return nil, exceeded(route.ID, w.Window, w.Cap)
		}
	}
	for i, w := range windows {
		k := counterKey(w.Window, w.Bucket)
		rs.counts[k]++
		windows[i].Count = rs.counts[k]
	}

	res := &domain.Reservation{
		ID:        uuid.New().String(),
		RouteID:   route.ID,
		LeadID:    leadID,
		Windows:   windows,
		State:     domain.ReservationHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	held := *res
	rs.holds[res.ID] = &held
	return res, nil
}

// Commit implements Tracker.
func (m *MemoryTracker) Commit(_ context.Context, res *domain.Reservation) error {
	rs := m.route(res.RouteID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, ok := rs.holds[res.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotHeld, res.ID)
	}
	delete(rs.holds, res.ID)
	res.State = domain.ReservationCommitted
	return nil
}

// Release implements Tracker.
func (m *MemoryTracker) Release(_ context.Context, res *domain.Reservation) error {
	rs := m.route(res.RouteID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	held, ok := rs.holds[res.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotHeld, res.ID)
	}
	rs.releaseLocked(held)
	res.State = domain.ReservationReleased
	return nil
}

func (rs *routeState) releaseLocked(held *domain.Reservation) {
	for _, w := range held.Windows {
		k := counterKey(w.Window, w.Bucket)
		if rs.counts[k] > 1 {
			rs.counts[k]--
		} else {
			delete(rs.counts, k)
		}
	}
	delete(rs.holds, held.ID)
}

// Extend implements Tracker.
func (m *MemoryTracker) Extend(_ context.Context, res *domain.Reservation) error {
	rs := m.route(res.RouteID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	held, ok := rs.holds[res.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReservationNotHeld, res.ID)
	}
	held.ExpiresAt = m.now().Add(m.ttl)
	res.ExpiresAt = held.ExpiresAt
	return nil
}

// Usage implements Tracker.
func (m *MemoryTracker) Usage(_ context.Context, route domain.Route) ([]domain.WindowSnapshot, error) {
	windows := snapshotWindows(route, m.now())
	rs := m.route(route.ID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, w := range windows {
		windows[i].Count = rs.counts[counterKey(w.Window, w.Bucket)]
	}
	return windows, nil
}

// Held returns the number of HELD reservations for a route.
func (m *MemoryTracker) Held(routeID string) int {
	rs := m.route(routeID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.holds)
}

// ReapExpired implements Tracker. It also drops counters of windows that
// have rolled over and are no longer referenced by a held reservation.
func (m *MemoryTracker) ReapExpired(_ context.Context) (int, error) {
	now := m.now()

	m.mu.RLock()
	states := make([]*routeState, 0, len(m.routes))
	for _, rs := range m.routes {
		states = append(states, rs)
	}
	m.mu.RUnlock()

	reaped := 0
	for _, rs := range states {
		rs.mu.Lock()
		for _, held := range rs.holds {
			if !now.Before(held.ExpiresAt) {
				rs.releaseLocked(held)
				reaped++
			}
		}
		rs.pruneLocked(now)
		rs.mu.Unlock()
	}
	return reaped, nil
}

func (rs *routeState) pruneLocked(now time.Time) {
	live := make(map[string]bool)
	for _, w := range domain.Windows {
		live[counterKey(w, w.Bucket(now))] = true
	}
	for _, held := range rs.holds {
		for _, w := range held.Windows {
			live[counterKey(w.Window, w.Bucket)] = true
		}
	}
	for k := range rs.counts {
		if !live[k] {
			delete(rs.counts, k)
		}
	}
}
