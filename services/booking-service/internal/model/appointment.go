package model

import "time"

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses accept no further mutation.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Occupies reports whether an appointment in this status counts against
// service capacity.
func (s AppointmentStatus) Occupies() bool {
	return s != StatusCancelled
}

// CanTransition allows confirmed -> {completed, cancelled, no_show} and
// no-op transitions to the current status.
func CanTransition(from, to AppointmentStatus) bool {
	if from == to {
		return true
	}
	return from == StatusConfirmed && to.Terminal()
}

type Appointment struct {
	ID            string
	BusinessID    string
	ServiceID     string
	StartTime     time.Time
	EndTime       time.Time
	Status        AppointmentStatus
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Notes         string
	// CancellationToken is only populated on the commit response; the store
	// keeps its hash.
	CancellationToken string
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CancelledAt       *time.Time
}
