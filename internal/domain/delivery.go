package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryOutcome enumerates how a buyer endpoint answered a delivery.
type DeliveryOutcome string

const (
	DeliveryAccepted DeliveryOutcome = "ACCEPTED"
	DeliveryRejected DeliveryOutcome = "REJECTED"
	DeliveryTimeout  DeliveryOutcome = "TIMEOUT"
	DeliveryError    DeliveryOutcome = "ERROR"
)

// DeliveryAttempt records a single waterfall step.
type DeliveryAttempt struct {
	RouteID     string           `json:"route_id"`
	LeadID      string           `json:"lead_id"`
	Outcome     DeliveryOutcome  `json:"outcome"`
	Latency     time.Duration    `json:"latency"`
	Summary     string           `json:"summary,omitempty"`
	CircuitOpen bool             `json:"circuit_open,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}
