// Package dispatch runs the delivery waterfall: one ranked candidate at a
// time until a buyer accepts or the list is exhausted.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/lead-router/internal/capacity"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/matcher"
	"github.com/ignite/lead-router/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds a single delivery call.
const DefaultTimeout = 5 * time.Second

const commitAttempts = 3

// Recorder appends ledger entries.
type Recorder interface {
	Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error)
}

// Outcome is the result of a waterfall.
type Outcome struct {
	Sold     bool
	RouteID  string
	Price    decimal.Decimal
	Reason   domain.Reason
	Attempts []domain.DeliveryAttempt
	Entry    domain.LedgerEntry
}

// Dispatcher delivers leads to ranked candidates.
type Dispatcher struct {
	client   Client
	tracker  capacity.Tracker
	ledger   Recorder
	breakers *Breakers
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. A nil breakers set uses defaults.
func NewDispatcher(client Client, tracker capacity.Tracker, ledger Recorder, breakers *Breakers, timeout time.Duration) *Dispatcher {
	if breakers == nil {
		breakers = NewBreakers(0, 0)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{client: client, tracker: tracker, ledger: ledger, breakers: breakers, timeout: timeout}
}

// Breakers exposes the per-route circuit state.
func (d *Dispatcher) Breakers() *Breakers {
	return d.breakers
}

// Dispatch walks candidates in order. The first ACCEPTED response commits
// that reservation, releases the rest and records SOLD. Any other outcome
// releases the candidate's reservation and moves on. When nothing accepts,
// UNSOLD is recorded with NoMatch for an empty list and AllRejected
// otherwise.
//
// If ctx is canceled the remaining reservations are released and ctx.Err()
// is returned without a ledger entry; the caller records the abandonment.
func (d *Dispatcher) Dispatch(ctx context.Context, lead *domain.Lead, candidates []matcher.Candidate, processedBy string) (Outcome, error) {
	var out Outcome

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			matcher.Release(ctx, d.tracker, candidates[i:])
			return out, err
		}

		attempt := d.attempt(ctx, lead, c)
		out.Attempts = append(out.Attempts, attempt)

		if attempt.Outcome == domain.DeliveryAccepted {
			price := c.Price
			if attempt.Price != nil {
				price = *attempt.Price
			}
			// The ledger stores cents.
			price = price.Round(2)
			if err := d.commit(ctx, c.Reservation); err != nil {
				logger.Error("failed to commit reservation after acceptance",
					"lead_id", lead.ID, "route_id", c.Route.ID, "error", err)
			}
			matcher.Release(ctx, d.tracker, candidates[i+1:])

			out.Sold = true
			out.RouteID = c.Route.ID
			out.Price = price
			out.Entry = d.record(ctx, domain.LedgerEntry{
				LeadID:      lead.ID,
				Vertical:    lead.Vertical,
				RouteID:     c.Route.ID,
				Price:       price,
				Outcome:     domain.OutcomeSold,
				ProcessedBy: processedBy,
			})
			logger.Info("lead sold", "lead_id", lead.ID, "route_id", c.Route.ID, "price", price.StringFixed(2))
			return out, nil
		}

		matcher.Release(ctx, d.tracker, candidates[i:i+1])
		if ctx.Err() != nil {
			matcher.Release(ctx, d.tracker, candidates[i+1:])
			return out, ctx.Err()
		}
	}

	out.Reason = domain.ReasonAllRejected
	if len(candidates) == 0 {
		out.Reason = domain.ReasonNoMatch
	}
	out.Entry = d.record(ctx, domain.LedgerEntry{
		LeadID:      lead.ID,
		Vertical:    lead.Vertical,
		Price:       decimal.Zero,
		Outcome:     domain.OutcomeUnsold,
		Reason:      out.Reason,
		ProcessedBy: processedBy,
	})
	return out, nil
}

func (d *Dispatcher) attempt(ctx context.Context, lead *domain.Lead, c matcher.Candidate) domain.DeliveryAttempt {
	a := domain.DeliveryAttempt{RouteID: c.Route.ID, LeadID: lead.ID}

	if c.Reservation != nil {
		if err := d.tracker.Extend(ctx, c.Reservation); err != nil {
			a.Outcome = domain.DeliveryError
			a.Summary = "reservation no longer held"
			logger.Warn("skipping candidate without live reservation",
				"lead_id", lead.ID, "route_id", c.Route.ID, "error", err)
			return a
		}
	}

	if !d.breakers.Allow(c.Route.ID) {
		a.Outcome = domain.DeliveryRejected
		a.CircuitOpen = true
		a.Summary = "circuit open"
		logger.Warn("route skipped", "event", "circuit_open", "lead_id", lead.ID, "route_id", c.Route.ID)
		return a
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.client.Deliver(callCtx, c.Route, lead)
	a.Latency = time.Since(start)
	a.Summary = resp.Summary

	switch {
	case err == nil && resp.Accepted:
		a.Outcome = domain.DeliveryAccepted
		if resp.Price != nil {
			if resp.Price.IsNegative() {
				logger.Warn("ignoring negative adjusted price", "lead_id", lead.ID, "route_id", c.Route.ID)
			} else {
				p := *resp.Price
				a.Price = &p
			}
		}
		d.breakers.Success(c.Route.ID)
	case err == nil:
		a.Outcome = domain.DeliveryRejected
		d.breakers.Success(c.Route.ID)
	case ctx.Err() != nil:
		// caller went away; not the buyer's fault
		a.Outcome = domain.DeliveryError
		a.Summary = "aborted"
		d.breakers.Abort(c.Route.ID)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrMalformedResponse):
		a.Outcome = domain.DeliveryTimeout
		d.fail(lead, c.Route.ID)
	default:
		a.Outcome = domain.DeliveryError
		if a.Summary == "" {
			a.Summary = "transport error"
		}
		d.fail(lead, c.Route.ID)
	}

	logger.Debug("delivery attempt", "lead_id", lead.ID, "route_id", c.Route.ID,
		"outcome", a.Outcome, "latency_ms", a.Latency.Milliseconds())
	return a
}

// commit retries transient tracker errors. A reservation that is no longer
// held cannot be committed and is returned immediately.
func (d *Dispatcher) commit(ctx context.Context, res *domain.Reservation) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := 0; i < commitAttempts; i++ {
		if err = d.tracker.Commit(ctx, res); err == nil || errors.Is(err, capacity.ErrReservationNotHeld) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 20 * time.Millisecond)
	}
	return err
}

func (d *Dispatcher) fail(lead *domain.Lead, routeID string) {
	if d.breakers.Failure(routeID) {
		logger.Warn("route circuit opened", "event", "circuit_opened", "lead_id", lead.ID, "route_id", routeID)
	}
}

func (d *Dispatcher) record(ctx context.Context, entry domain.LedgerEntry) domain.LedgerEntry {
	saved, err := d.ledger.Append(context.WithoutCancel(ctx), entry)
	if err != nil {
		logger.Error("failed to append ledger entry",
			"lead_id", entry.LeadID, "outcome", entry.Outcome, "error", err)
		return entry
	}
	return saved
}
