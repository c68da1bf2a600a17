// Package api exposes the lead ingestion, catalog configuration and
// accounting read contracts over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/lead-router/internal/capacity"
	"github.com/ignite/lead-router/internal/catalog"
	"github.com/ignite/lead-router/internal/dispatch"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/ledger"
	"github.com/ignite/lead-router/internal/pipeline"
	"github.com/ignite/lead-router/internal/pkg/httputil"
	"github.com/ignite/lead-router/internal/vertical"
)

// CallerHeader carries the already-authenticated identity of the submitter.
const CallerHeader = "X-Caller-ID"

const (
	maxBodyBytes     = 1 << 20
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// LeadProcessor runs one lead to a terminal outcome.
type LeadProcessor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Result
}

// Handlers contains all HTTP handlers
type Handlers struct {
	leads    LeadProcessor
	catalog  *catalog.Catalog
	tracker  capacity.Tracker
	ledger   *ledger.Ledger
	breakers *dispatch.Breakers
	archiver *ledger.Archiver
	health   *HealthChecker
}

// NewHandlers creates a new Handlers instance
func NewHandlers(leads LeadProcessor, c *catalog.Catalog, tracker capacity.Tracker, l *ledger.Ledger) *Handlers {
	return &Handlers{
		leads:   leads,
		catalog: c,
		tracker: tracker,
		ledger:  l,
		health:  NewHealthChecker(nil, nil, nil, ""),
	}
}

// SetBreakers exposes circuit state on the usage endpoint.
func (h *Handlers) SetBreakers(b *dispatch.Breakers) {
	h.breakers = b
}

// SetArchiver enables the on-demand ledger export endpoint.
func (h *Handlers) SetArchiver(a *ledger.Archiver) {
	h.archiver = a
}

// SetHealthChecker replaces the default health checker. Call before NewServer.
func (h *Handlers) SetHealthChecker(hc *HealthChecker) {
	h.health = hc
}

// --- Ingestion ---

// SubmitLead hands a lead to the pipeline and returns its result.
//
//	POST /api/leads
func (h *Handlers) SubmitLead(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req pipeline.Request
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.CallerID = r.Header.Get(CallerHeader)

	res := h.leads.Process(r.Context(), req)
	httputil.JSON(w, leadStatusCode(res), res)
}

func leadStatusCode(res pipeline.Result) int {
	switch {
	case res.Status != pipeline.StatusRejected:
		return http.StatusOK
	case res.Reason == domain.ReasonDuplicate:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// --- Catalog ---

// ListVerticals returns every registered vertical.
func (h *Handlers) ListVerticals(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"verticals": h.catalog.Verticals().List()})
}

// UpsertVertical registers or extends a vertical schema.
//
//	PUT /api/catalog/verticals
func (h *Handlers) UpsertVertical(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var v domain.Vertical
	if !httputil.Decode(w, r, &v) {
		return
	}

	published, err := h.catalog.UpsertVertical(r.Context(), v)
	var conflict *vertical.SchemaConflictError
	switch {
	case err == nil:
		httputil.OK(w, published)
	case errors.As(err, &conflict):
		httputil.ErrorWithCode(w, http.StatusConflict, "schema_conflict", err.Error(), conflict.Fields)
	case errors.Is(err, vertical.ErrInvalidSchema):
		httputil.ErrorWithCode(w, http.StatusBadRequest, "invalid_schema", err.Error(), nil)
	default:
		httputil.InternalError(w, err)
	}
}

// ListRoutes returns routes, optionally for one vertical. Endpoint tokens
// are never returned.
//
//	GET /api/catalog/routes?vertical=
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes := h.catalog.Routes(r.URL.Query().Get("vertical"))
	for i := range routes {
		routes[i] = redactRoute(routes[i])
	}
	httputil.OK(w, map[string]any{"routes": routes, "total": len(routes)})
}

// GetRoute returns one route.
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.catalog.Route(chi.URLParam(r, "id"))
	if !ok {
		httputil.NotFound(w, "route not found")
		return
	}
	httputil.OK(w, redactRoute(rt))
}

// UpsertRoute validates and publishes a route under the id in the path.
//
//	PUT /api/catalog/routes/{id}
func (h *Handlers) UpsertRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var rt domain.Route
	if !httputil.Decode(w, r, &rt) {
		return
	}
	if rt.ID != "" && rt.ID != id {
		httputil.BadRequest(w, "route id does not match path")
		return
	}
	rt.ID = id

	if err := h.catalog.ValidateRoute(rt); err != nil {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "invalid_route", err.Error(), nil)
		return
	}
	if err := h.catalog.UpsertRoute(r.Context(), rt); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, redactRoute(rt))
}

// DeleteRoute unpublishes a route.
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	err := h.catalog.RemoveRoute(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		httputil.NoContent(w)
	case errors.Is(err, catalog.ErrRouteNotFound):
		httputil.NotFound(w, "route not found")
	default:
		httputil.InternalError(w, err)
	}
}

func redactRoute(rt domain.Route) domain.Route {
	rt.Endpoint.Token = ""
	return rt
}

// RouteUsage is the capacity and circuit view of one route.
type RouteUsage struct {
	RouteID string                  `json:"route_id"`
	Active  bool                    `json:"active"`
	Windows []domain.WindowSnapshot `json:"windows"`
	Circuit string                  `json:"circuit,omitempty"`
}

// GetRouteUsage returns current-bucket counts against each capped window.
//
//	GET /api/routes/{id}/usage
func (h *Handlers) GetRouteUsage(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.catalog.Route(chi.URLParam(r, "id"))
	if !ok {
		httputil.NotFound(w, "route not found")
		return
	}
	windows, err := h.tracker.Usage(r.Context(), rt)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if windows == nil {
		windows = []domain.WindowSnapshot{}
	}
	usage := RouteUsage{RouteID: rt.ID, Active: rt.Active, Windows: windows}
	if h.breakers != nil {
		usage.Circuit = h.breakers.State(rt.ID)
	}
	httputil.OK(w, usage)
}

// --- Accounting ---

// ListEntries returns ledger entries in creation order.
//
//	GET /api/ledger/entries?lead_id&route_id&vertical&outcome&from&to&limit
func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	entries, err := h.ledger.Entries(r.Context(), q)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	httputil.OK(w, map[string]any{"entries": entries, "total": len(entries)})
}

// GetRevenue returns a route's net revenue over [from, to). The window
// defaults to the last 24 hours.
//
//	GET /api/ledger/revenue?route_id&from&to
func (h *Handlers) GetRevenue(w http.ResponseWriter, r *http.Request) {
	routeID := r.URL.Query().Get("route_id")
	if routeID == "" {
		httputil.BadRequest(w, "route_id is required")
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	total, err := h.ledger.RevenueFor(r.Context(), routeID, from, to)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"route_id": routeID,
		"from":     from,
		"to":       to,
		"revenue":  total,
	})
}

// GetSummary returns outcome counts and revenue breakdowns.
//
//	GET /api/ledger/summary?vertical&route_id&from&to
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s, err := h.ledger.Summarize(r.Context(), q)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, s)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

// ReverseEntry appends a compensating entry for a SOLD entry.
//
//	POST /api/ledger/entries/{id}/reverse
func (h *Handlers) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req reverseRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		httputil.BadRequest(w, "reason is required")
		return
	}

	entry, err := h.ledger.Reverse(r.Context(), chi.URLParam(r, "id"), req.Reason, r.Header.Get(CallerHeader))
	switch {
	case err == nil:
		httputil.JSON(w, http.StatusCreated, entry)
	case errors.Is(err, ledger.ErrEntryNotFound):
		httputil.NotFound(w, "ledger entry not found")
	case errors.Is(err, ledger.ErrAlreadyReversed):
		httputil.ErrorWithCode(w, http.StatusConflict, "already_reversed", err.Error(), nil)
	case errors.Is(err, ledger.ErrNotReversible):
		httputil.ErrorWithCode(w, http.StatusConflict, "not_reversible", err.Error(), nil)
	default:
		httputil.InternalError(w, err)
	}
}

type exportRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ExportLedger archives entries in [from, to) to S3.
//
//	POST /api/ledger/export
func (h *Handlers) ExportLedger(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		httputil.ErrorWithCode(w, http.StatusServiceUnavailable, "archive_disabled", "ledger archive is not configured", nil)
		return
	}
	var req exportRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.From.IsZero() || !req.To.After(req.From) {
		httputil.BadRequest(w, "from and to are required and to must be after from")
		return
	}

	key, n, err := h.archiver.Export(r.Context(), req.From, req.To)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"key": key, "entries": n})
}

func parseQuery(r *http.Request) (ledger.Query, error) {
	v := r.URL.Query()
	q := ledger.Query{
		LeadID:   v.Get("lead_id"),
		RouteID:  v.Get("route_id"),
		Vertical: v.Get("vertical"),
		Limit:    defaultPageLimit,
	}
	if o := v.Get("outcome"); o != "" {
		q.Outcome = domain.LedgerOutcome(o)
		if !q.Outcome.Terminal() && q.Outcome != domain.OutcomeReversed {
			return ledger.Query{}, fmt.Errorf("unknown outcome %q", o)
		}
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return ledger.Query{}, fmt.Errorf("invalid limit %q", l)
		}
		q.Limit = min(n, maxPageLimit)
	}

	from, to, err := parseWindow(r)
	if err != nil {
		return ledger.Query{}, err
	}
	q.From, q.To = from, to
	return q, nil
}

func parseWindow(r *http.Request) (from, to time.Time, err error) {
	if from, err = parseTime(r, "from"); err != nil {
		return
	}
	if to, err = parseTime(r, "to"); err != nil {
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		err = errors.New("to must be after from")
	}
	return
}

func parseTime(r *http.Request, key string) (time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: expected RFC3339", key)
	}
	return t.UTC(), nil
}
