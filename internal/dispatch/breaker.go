package dispatch

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type routeHealth struct {
	state            breakerState
	consecutiveFails int
	openedAt         time.Time
	trialInFlight    bool
}

// Breakers tracks a circuit per route. The threshold counts the failure
// that trips it: the threshold-th consecutive failure opens the circuit and
// the route is skipped for cooldown; then a single trial call is let
// through. Success closes the circuit, failure reopens it.
type Breakers struct {
	mu        sync.Mutex
	routes    map[string]*routeHealth
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreakers creates the per-route breaker set.
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breakers{
		routes:    make(map[string]*routeHealth),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (b *Breakers) health(routeID string) *routeHealth {
	h, ok := b.routes[routeID]
	if !ok {
		h = &routeHealth{}
		b.routes[routeID] = h
	}
	return h
}

// Allow reports whether a call to routeID may proceed.
func (b *Breakers) Allow(routeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.health(routeID)
	switch h.state {
	case stateOpen:
		if b.now().Sub(h.openedAt) < b.cooldown {
			return false
		}
		h.state = stateHalfOpen
		h.trialInFlight = true
		return true
	case stateHalfOpen:
		if h.trialInFlight {
			return false
		}
		h.trialInFlight = true
		return true
	}
	return true
}

// Success records a healthy response.
func (b *Breakers) Success(routeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.health(routeID)
	h.state = stateClosed
	h.consecutiveFails = 0
	h.trialInFlight = false
}

// Failure records a timeout or error. It reports whether this failure
// opened the circuit.
func (b *Breakers) Failure(routeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.health(routeID)
	h.consecutiveFails++
	h.trialInFlight = false
	if h.state == stateHalfOpen || h.consecutiveFails >= b.threshold {
		opened := h.state != stateOpen
		h.state = stateOpen
		h.openedAt = b.now()
		return opened
	}
	return false
}

// Abort gives back a trial slot taken by Allow when the call never
// produced a result.
func (b *Breakers) Abort(routeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.routes[routeID]; ok {
		h.trialInFlight = false
	}
}

// State returns the circuit state name for routeID.
func (b *Breakers) State(routeID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.routes[routeID]; ok {
		return h.state.String()
	}
	return stateClosed.String()
}
