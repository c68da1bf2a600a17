// Package pipeline drives a lead through validate, dedupe, match and
// dispatch, and guarantees exactly one terminal ledger entry per lead.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/lead-router/internal/capacity"
	"github.com/ignite/lead-router/internal/dedupe"
	"github.com/ignite/lead-router/internal/dispatch"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/matcher"
	"github.com/ignite/lead-router/internal/pkg/logger"
	"github.com/ignite/lead-router/internal/vertical"
	"github.com/shopspring/decimal"
)

// DefaultDedupeWindow is how long a fingerprint blocks resubmission.
const DefaultDedupeWindow = 24 * time.Hour

// Status is the caller-facing result of a submission.
type Status string

const (
	StatusSold     Status = "SOLD"
	StatusUnsold   Status = "UNSOLD"
	StatusRejected Status = "REJECTED"
)

// Request is an ingestion call. CallerID is the already-authenticated
// identity of the submitter.
type Request struct {
	Vertical string         `json:"vertical_name"`
	Fields   map[string]any `json:"field_values"`
	CallerID string         `json:"-"`
}

// Result is returned for every request.
type Result struct {
	Status   Status                   `json:"status"`
	LeadID   string                   `json:"lead_id"`
	RouteID  string                   `json:"route_id,omitempty"`
	Price    *decimal.Decimal         `json:"price,omitempty"`
	Reason   domain.Reason            `json:"reason,omitempty"`
	Details  any                      `json:"details,omitempty"`
	Attempts []domain.DeliveryAttempt `json:"attempts,omitempty"`
}

// Config holds pipeline tunables.
type Config struct {
	DedupeWindow time.Duration
}

// Pipeline composes the engine components.
type Pipeline struct {
	registry   *vertical.Registry
	index      dedupe.Index
	matcher    *matcher.Matcher
	dispatcher *dispatch.Dispatcher
	tracker    capacity.Tracker
	ledger     dispatch.Recorder
	window     time.Duration
	now        func() time.Time
}

// New wires a pipeline.
func New(registry *vertical.Registry, index dedupe.Index, m *matcher.Matcher, d *dispatch.Dispatcher,
	tracker capacity.Tracker, ledger dispatch.Recorder, cfg Config) *Pipeline {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	return &Pipeline{
		registry:   registry,
		index:      index,
		matcher:    m,
		dispatcher: d,
		tracker:    tracker,
		ledger:     ledger,
		window:     cfg.DedupeWindow,
		now:        time.Now,
	}
}

// Process runs one lead to a terminal outcome. It never returns an error;
// internal failures become an UNSOLD InternalError result for this lead.
func (p *Pipeline) Process(ctx context.Context, req Request) (res Result) {
	start := p.now()
	lead := &domain.Lead{
		ID:         uuid.New().String(),
		Vertical:   req.Vertical,
		Fields:     req.Fields,
		ReceivedAt: start.UTC(),
		Status:     domain.LeadNew,
	}
	var held []matcher.Candidate

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing lead", "lead_id", lead.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			matcher.Release(ctx, p.tracker, held)
			p.forget(ctx, lead)
			res = p.unsold(ctx, lead, req.CallerID, domain.ReasonInternalError, nil)
		}
		logger.Info("lead processed",
			"lead_id", lead.ID, "vertical", lead.Vertical, "status", res.Status,
			"reason", res.Reason, "route_id", res.RouteID, "latency_ms", p.now().Sub(start).Milliseconds())
	}()

	fields, err := p.registry.Validate(req.Vertical, req.Fields)
	if err != nil {
		var verr *vertical.ValidationError
		switch {
		case errors.As(err, &verr):
			return p.reject(ctx, lead, req.CallerID, domain.LeadRejectedInvalid, domain.ReasonInvalid, verr.Violations)
		case errors.Is(err, vertical.ErrUnknownVertical):
			return p.reject(ctx, lead, req.CallerID, domain.LeadRejectedInvalid, domain.ReasonInvalid, err.Error())
		default:
			return p.internal(ctx, lead, req.CallerID, err)
		}
	}
	lead.Fields = fields
	p.advance(lead, domain.LeadValidated)

	v, _ := p.registry.Get(req.Vertical)
	lead.Fingerprint = dedupe.Fingerprint(v, fields)
	seen, err := p.index.CheckAndInsert(ctx, lead.Fingerprint, p.window)
	if err != nil {
		return p.failed(ctx, lead, req.CallerID, err)
	}
	if seen == dedupe.Duplicate {
		return p.reject(ctx, lead, req.CallerID, domain.LeadRejectedDuplicate, domain.ReasonDuplicate, nil)
	}
	p.advance(lead, domain.LeadDedupeChecked)

	held, err = p.matcher.Match(ctx, lead)
	switch {
	case errors.Is(err, matcher.ErrNoMatch):
		held = nil
	case err != nil:
		return p.failed(ctx, lead, req.CallerID, err)
	default:
		p.advance(lead, domain.LeadMatched)
		p.advance(lead, domain.LeadDispatching)
	}

	out, err := p.dispatcher.Dispatch(ctx, lead, held, req.CallerID)
	held = nil
	if err != nil {
		return p.failed(ctx, lead, req.CallerID, err)
	}

	if out.Sold {
		p.advance(lead, domain.LeadSold)
		price := out.Price
		return Result{Status: StatusSold, LeadID: lead.ID, RouteID: out.RouteID, Price: &price, Attempts: out.Attempts}
	}
	p.advance(lead, domain.LeadUnsold)
	return Result{Status: StatusUnsold, LeadID: lead.ID, Reason: out.Reason, Attempts: out.Attempts}
}

func (p *Pipeline) advance(lead *domain.Lead, next domain.LeadStatus) {
	if err := lead.Transition(next); err != nil {
		panic(err)
	}
}

func (p *Pipeline) reject(ctx context.Context, lead *domain.Lead, caller string, status domain.LeadStatus, reason domain.Reason, details any) Result {
	p.advance(lead, status)
	p.record(ctx, domain.LedgerEntry{
		LeadID:      lead.ID,
		Vertical:    lead.Vertical,
		Price:       decimal.Zero,
		Outcome:     domain.OutcomeRejected,
		Reason:      reason,
		ProcessedBy: caller,
	})
	return Result{Status: StatusRejected, LeadID: lead.ID, Reason: reason, Details: details}
}

// failed distinguishes upstream abandonment from internal errors.
func (p *Pipeline) failed(ctx context.Context, lead *domain.Lead, caller string, err error) Result {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		logger.Warn("lead abandoned by caller", "lead_id", lead.ID, "error", err)
		return p.unsold(ctx, lead, caller, domain.ReasonAborted, nil)
	}
	return p.internal(ctx, lead, caller, err)
}

func (p *Pipeline) internal(ctx context.Context, lead *domain.Lead, caller string, err error) Result {
	logger.Error("lead failed with internal error", "lead_id", lead.ID, "vertical", lead.Vertical, "error", err)
	p.forget(ctx, lead)
	return p.unsold(ctx, lead, caller, domain.ReasonInternalError, nil)
}

// forget drops the fingerprint of a lead that failed before any delivery,
// so a resubmission is not rejected as a duplicate.
func (p *Pipeline) forget(ctx context.Context, lead *domain.Lead) {
	if lead.Status != domain.LeadDedupeChecked && lead.Status != domain.LeadMatched {
		return
	}
	if err := p.index.Forget(context.WithoutCancel(ctx), lead.Fingerprint); err != nil {
		logger.Warn("failed to forget fingerprint", "lead_id", lead.ID, "error", err)
	}
}

func (p *Pipeline) unsold(ctx context.Context, lead *domain.Lead, caller string, reason domain.Reason, details any) Result {
	if !lead.Status.Terminal() {
		lead.Status = domain.LeadUnsold
	}
	p.record(ctx, domain.LedgerEntry{
		LeadID:      lead.ID,
		Vertical:    lead.Vertical,
		Price:       decimal.Zero,
		Outcome:     domain.OutcomeUnsold,
		Reason:      reason,
		ProcessedBy: caller,
	})
	return Result{Status: StatusUnsold, LeadID: lead.ID, Reason: reason, Details: details}
}

func (p *Pipeline) record(ctx context.Context, e domain.LedgerEntry) {
	if _, err := p.ledger.Append(context.WithoutCancel(ctx), e); err != nil {
		logger.Error("failed to append ledger entry", "lead_id", e.LeadID, "outcome", e.Outcome, "error", err)
	}
}
