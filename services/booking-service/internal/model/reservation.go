package model

import "time"

// Reservation is a temporary hold on one unit of a service's capacity.
type Reservation struct {
	ID             string
	BusinessID     string
	ServiceID      string
	SlotStart      time.Time
	SlotEnd        time.Time
	IdempotencyKey string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired is computed, never stored: a hold stops counting the instant
// expires_at is reached.
func (r Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// SameRequest reports whether a replayed create carries the parameters the
// hold was made with.
func (r Reservation) SameRequest(businessID, serviceID string, start, end time.Time) bool {
	return r.BusinessID == businessID &&
		r.ServiceID == serviceID &&
		r.SlotStart.Equal(start) &&
		r.SlotEnd.Equal(end)
}
