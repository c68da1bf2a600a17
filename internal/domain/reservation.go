package domain

import "time"

// ReservationState enumerates the lifecycle of a capacity hold.
type ReservationState string

const (
	ReservationHeld      ReservationState = "HELD"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationReleased  ReservationState = "RELEASED"
)

// WindowSnapshot records the bucket and cap a reservation counted against.
// Release always decrements this bucket, even after the window has rolled.
type WindowSnapshot struct {
	Window Window `json:"window"`
	Bucket string `json:"bucket"`
	Cap    int64  `json:"cap"`
	Count  int64  `json:"count"`
}

// Reservation is a provisional hold on a route's capacity for one lead.
type Reservation struct {
	ID        string           `json:"id"`
	RouteID   string           `json:"route_id"`
	LeadID    string           `json:"lead_id"`
	Windows   []WindowSnapshot `json:"windows"`
	State     ReservationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}
