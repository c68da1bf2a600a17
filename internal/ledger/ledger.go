// Package ledger is the append-only accounting record of lead outcomes.
//
// Entries are never updated or deleted. A sale is undone by appending a
// REVERSED entry with the negated amount that references the original.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/shopspring/decimal"
)

// Sentinel errors for the ledger.
var (
	ErrEntryNotFound      = errors.New("ledger entry not found")
	ErrDuplicateTerminal  = errors.New("lead already has a terminal ledger entry")
	ErrAlreadyReversed    = errors.New("ledger entry already reversed")
	ErrNotReversible      = errors.New("only SOLD entries can be reversed")
	ErrInvalidOutcome     = errors.New("invalid ledger outcome")
	ErrReversalNeedsEntry = errors.New("reversals must be created with Reverse")
)

// Query filters ledger reads. Zero fields do not filter. From is inclusive,
// To is exclusive.
type Query struct {
	LeadID   string
	RouteID  string
	Vertical string
	Outcome  domain.LedgerOutcome
	From     time.Time
	To       time.Time
	Limit    int
}

// Matches reports whether e satisfies q.
func (q Query) Matches(e domain.LedgerEntry) bool {
	if q.LeadID != "" && e.LeadID != q.LeadID {
		return false
	}
	if q.RouteID != "" && e.RouteID != q.RouteID {
		return false
	}
	if q.Vertical != "" && e.Vertical != q.Vertical {
		return false
	}
	if q.Outcome != "" && e.Outcome != q.Outcome {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

// Store persists entries. Append must reject a second terminal entry for
// the same lead with ErrDuplicateTerminal and a second reversal of the same
// entry with ErrAlreadyReversed.
type Store interface {
	Append(ctx context.Context, e domain.LedgerEntry) error
	Get(ctx context.Context, id string) (domain.LedgerEntry, error)
	List(ctx context.Context, q Query) ([]domain.LedgerEntry, error)
}

// Sink receives every appended entry. Publish must not block the caller.
type Sink interface {
	Publish(ctx context.Context, e domain.LedgerEntry)
}

// Ledger fronts a Store and fans entries out to sinks.
type Ledger struct {
	store Store
	sinks []Sink
	now   func() time.Time
}

// New creates a ledger over store.
func New(store Store, sinks ...Sink) *Ledger {
	return &Ledger{store: store, sinks: sinks, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Append assigns an id and timestamp, stores the entry and publishes it.
func (l *Ledger) Append(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if !e.Outcome.Terminal() {
		if e.Outcome == domain.OutcomeReversed {
			return domain.LedgerEntry{}, ErrReversalNeedsEntry
		}
		return domain.LedgerEntry{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, e.Outcome)
	}
	return l.append(ctx, e)
}

func (l *Ledger) append(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = l.now().UTC()
	if err := l.store.Append(ctx, e); err != nil {
		return domain.LedgerEntry{}, err
	}
	for _, s := range l.sinks {
		s.Publish(ctx, e)
	}
	return e, nil
}

// Reverse appends a compensating entry for a SOLD entry.
func (l *Ledger) Reverse(ctx context.Context, entryID string, reason string, processedBy string) (domain.LedgerEntry, error) {
	orig, err := l.store.Get(ctx, entryID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if orig.Outcome != domain.OutcomeSold {
		return domain.LedgerEntry{}, fmt.Errorf("%w: entry %s is %s", ErrNotReversible, entryID, orig.Outcome)
	}
	return l.append(ctx, domain.LedgerEntry{
		LeadID:      orig.LeadID,
		Vertical:    orig.Vertical,
		RouteID:     orig.RouteID,
		Price:       orig.Price.Neg(),
		Outcome:     domain.OutcomeReversed,
		Reason:      domain.Reason(reason),
		ReversesID:  orig.ID,
		ProcessedBy: processedBy,
	})
}

// Entries lists entries matching q, oldest first.
func (l *Ledger) Entries(ctx context.Context, q Query) ([]domain.LedgerEntry, error) {
	return l.store.List(ctx, q)
}

// RevenueFor sums SOLD and REVERSED amounts for a route in [from, to).
func (l *Ledger) RevenueFor(ctx context.Context, routeID string, from, to time.Time) (decimal.Decimal, error) {
	entries, err := l.store.List(ctx, Query{RouteID: routeID, From: from, To: to})
	if err != nil {
		return decimal.Zero, err
	}
	return revenue(entries), nil
}

func revenue(entries []domain.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Outcome == domain.OutcomeSold || e.Outcome == domain.OutcomeReversed {
			total = total.Add(e.Price)
		}
	}
	return total
}

// Summary aggregates a set of entries.
type Summary struct {
	Counts            map[domain.LedgerOutcome]int `json:"counts"`
	Reasons           map[domain.Reason]int        `json:"reasons"`
	Revenue           decimal.Decimal              `json:"revenue"`
	RevenueByRoute    map[string]decimal.Decimal   `json:"revenue_by_route"`
	RevenueByVertical map[string]decimal.Decimal   `json:"revenue_by_vertical"`
}

// Summarize aggregates entries matching q.
func (l *Ledger) Summarize(ctx context.Context, q Query) (Summary, error) {
	q.Limit = 0
	entries, err := l.store.List(ctx, q)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Counts:            make(map[domain.LedgerOutcome]int),
		Reasons:           make(map[domain.Reason]int),
		Revenue:           decimal.Zero,
		RevenueByRoute:    make(map[string]decimal.Decimal),
		RevenueByVertical: make(map[string]decimal.Decimal),
	}
	for _, e := range entries {
		s.Counts[e.Outcome]++
		if e.Reason != "" && e.Outcome.Terminal() {
			s.Reasons[e.Reason]++
		}
		if e.Outcome != domain.OutcomeSold && e.Outcome != domain.OutcomeReversed {
			continue
		}
		s.Revenue = s.Revenue.Add(e.Price)
		s.RevenueByRoute[e.RouteID] = s.RevenueByRoute[e.RouteID].Add(e.Price)
		s.RevenueByVertical[e.Vertical] = s.RevenueByVertical[e.Vertical].Add(e.Price)
	}
	return s, nil
}
