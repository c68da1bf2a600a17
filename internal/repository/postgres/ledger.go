package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/ledger"
	"github.com/lib/pq"
)

const (
	terminalConstraint = "lead_ledger_terminal_uq"
	reversalConstraint = "lead_ledger_reverses_uq"
)

// LedgerRepo implements ledger.Store. The table is insert-only.
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed ledger store.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) Append(ctx context.Context, e domain.LedgerEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_ledger_entries (id, lead_id, vertical, route_id, price, outcome, reason, reverses_id, processed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.LeadID, e.Vertical, nullString(e.RouteID), e.Price, string(e.Outcome), string(e.Reason),
		nullString(e.ReversesID), e.ProcessedBy, e.CreatedAt)
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case terminalConstraint:
			return fmt.Errorf("%w: lead %s", ledger.ErrDuplicateTerminal, e.LeadID)
		case reversalConstraint:
			return fmt.Errorf("%w: %s", ledger.ErrAlreadyReversed, e.ReversesID)
		}
	}
	return fmt.Errorf("append ledger entry: %w", err)
}

const entryColumns = `id, lead_id, vertical, COALESCE(route_id, ''), price, outcome, reason, COALESCE(reverses_id, ''), processed_by, created_at`

func (r *LedgerRepo) Get(ctx context.Context, id string) (domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM lead_ledger_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

func (r *LedgerRepo) List(ctx context.Context, q ledger.Query) ([]domain.LedgerEntry, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.LeadID != "" {
		add("lead_id = $%d", q.LeadID)
	}
	if q.RouteID != "" {
		add("route_id = $%d", q.RouteID)
	}
	if q.Vertical != "" {
		add("vertical = $%d", q.Vertical)
	}
	if q.Outcome != "" {
		add("outcome = $%d", string(q.Outcome))
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at < $%d", q.To)
	}

	query := `SELECT ` + entryColumns + ` FROM lead_ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var outcome, reason string
	err := s.Scan(&e.ID, &e.LeadID, &e.Vertical, &e.RouteID, &e.Price, &outcome, &reason,
		&e.ReversesID, &e.ProcessedBy, &e.CreatedAt)
	e.Outcome = domain.LedgerOutcome(outcome)
	e.Reason = domain.Reason(reason)
	return e, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
