package handlers

import (
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type slotView struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	Available         bool      `json:"available"`
	CapacityRemaining int       `json:"capacity_remaining"`
	CapacityTotal     int       `json:"capacity_total"`
}

type reservationView struct {
	ID             string    `json:"id"`
	BusinessID     string    `json:"business_id"`
	ServiceID      string    `json:"service_id"`
	SlotStart      time.Time `json:"slot_start"`
	SlotEnd        time.Time `json:"slot_end"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type appointmentView struct {
	ID                string     `json:"id"`
	BusinessID        string     `json:"business_id"`
	ServiceID         string     `json:"service_id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	Status            string     `json:"status"`
	CustomerName      string     `json:"customer_name,omitempty"`
	CustomerEmail     string     `json:"customer_email,omitempty"`
	CustomerPhone     string     `json:"customer_phone,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	CancellationToken string     `json:"cancellation_token,omitempty"`
	Version           int        `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

func newSlotViews(slots []model.Slot) []slotView {
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotView{
			Start:             s.Start.UTC(),
			End:               s.End.UTC(),
			Available:         s.Available,
			CapacityRemaining: s.CapacityRemaining,
			CapacityTotal:     s.CapacityTotal,
		})
	}
	return out
}

func newReservationView(r model.Reservation) reservationView {
	return reservationView{
		ID:             r.ID,
		BusinessID:     r.BusinessID,
		ServiceID:      r.ServiceID,
		SlotStart:      r.SlotStart.UTC(),
		SlotEnd:        r.SlotEnd.UTC(),
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
	}
}

func newAppointmentView(a model.Appointment) appointmentView {
	return appointmentView{
		ID:                a.ID,
		BusinessID:        a.BusinessID,
		ServiceID:         a.ServiceID,
		StartTime:         a.StartTime.UTC(),
		EndTime:           a.EndTime.UTC(),
		Status:            string(a.Status),
		CustomerName:      a.CustomerName,
		CustomerEmail:     a.CustomerEmail,
		CustomerPhone:     a.CustomerPhone,
		Notes:             a.Notes,
		CancellationToken: a.CancellationToken,
		Version:           a.Version,
		CreatedAt:         a.CreatedAt.UTC(),
		UpdatedAt:         a.UpdatedAt.UTC(),
		CancelledAt:       a.CancelledAt,
	}
}
