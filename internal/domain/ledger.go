package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerOutcome enumerates accounting outcomes.
type LedgerOutcome string

const (
	OutcomeSold     LedgerOutcome = "SOLD"
	OutcomeUnsold   LedgerOutcome = "UNSOLD"
	OutcomeRejected LedgerOutcome = "REJECTED"
	// OutcomeReversed marks a compensating entry. It is not a terminal lead outcome.
	OutcomeReversed LedgerOutcome = "REVERSED"
)

// Terminal reports whether the outcome closes a lead.
func (o LedgerOutcome) Terminal() bool {
	return o == OutcomeSold || o == OutcomeUnsold || o == OutcomeRejected
}

// LedgerEntry is an immutable accounting record.
type LedgerEntry struct {
	ID          string          `json:"id" db:"id"`
	LeadID      string          `json:"lead_id" db:"lead_id"`
	Vertical    string          `json:"vertical" db:"vertical"`
	RouteID     string          `json:"route_id,omitempty" db:"route_id"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Outcome     LedgerOutcome   `json:"outcome" db:"outcome"`
	Reason      Reason          `json:"reason,omitempty" db:"reason"`
	ReversesID  string          `json:"reverses_id,omitempty" db:"reverses_id"`
	ProcessedBy string          `json:"processed_by,omitempty" db:"processed_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Reason explains a non-sale result.
type Reason string

const (
	ReasonInvalid       Reason = "INVALID"
	ReasonDuplicate     Reason = "DUPLICATE"
	ReasonNoMatch       Reason = "NoMatch"
	ReasonAllRejected   Reason = "AllRejected"
	ReasonInternalError Reason = "InternalError"
	// ReasonAborted is recorded when the caller abandons a lead mid-flight.
	ReasonAborted Reason = "Aborted"
)
