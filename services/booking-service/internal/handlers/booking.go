package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/appointment"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/audit"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/reservation"
)

type SlotFinder interface {
	Slots(ctx context.Context, q availability.Query) ([]model.Slot, error)
}

type Reservations interface {
	Create(ctx context.Context, in reservation.CreateInput) (model.Reservation, error)
	CleanupExpired(ctx context.Context) (int, error)
}

type Appointments interface {
	Commit(ctx context.Context, in appointment.CommitInput) (model.Appointment, error)
	Update(ctx context.Context, in appointment.UpdateInput) (model.Appointment, error)
	CancelByToken(ctx context.Context, token string) (model.Appointment, error)
	Get(ctx context.Context, businessID, id string) (model.Appointment, error)
	List(ctx context.Context, f appointment.ListFilter) ([]model.Appointment, error)
}

type AuditReader interface {
	ListForAppointment(ctx context.Context, businessID, appointmentID string, limit int) ([]audit.Entry, error)
}

type BookingHandler struct {
	slots        SlotFinder
	reservations Reservations
	appointments Appointments
	audit        AuditReader
	logger       *slog.Logger
	clock        clock.Clock
	validator    *requestValidator
}

func NewBookingHandler(slots SlotFinder, reservations Reservations, appointments Appointments, auditReader AuditReader, logger *slog.Logger, clk clock.Clock) *BookingHandler {
	return &BookingHandler{
		slots:        slots,
		reservations: reservations,
		appointments: appointments,
		audit:        auditReader,
		logger:       logger,
		clock:        clk,
		validator:    newRequestValidator(),
	}
}

// Routes wraps guest-facing endpoints in public and staff endpoints in
// staff. Either may be nil.
type Routes struct {
	Public httpx.Middleware
	Staff  httpx.Middleware
}

func (h *BookingHandler) Register(mux *http.ServeMux, routes Routes) {
	public := func(f http.HandlerFunc) http.Handler { return httpx.Chain(f, routes.Public) }
	staff := func(f http.HandlerFunc) http.Handler { return httpx.Chain(f, routes.Staff) }

	mux.Handle("GET /api/v1/public/availability", public(h.Availability))
	mux.Handle("POST /api/v1/public/reservations", public(h.CreateReservation))
	mux.Handle("POST /api/v1/public/reservations/{id}/commit", public(h.CommitReservation))
	mux.Handle("POST /api/v1/public/appointments/cancel", public(h.CancelByToken))

	mux.Handle("GET /api/v1/appointments", staff(h.ListAppointments))
	mux.Handle("GET /api/v1/appointments/{id}", staff(h.GetAppointment))
	mux.Handle("PATCH /api/v1/appointments/{id}", staff(h.UpdateAppointment))
	mux.Handle("GET /api/v1/appointments/{id}/audit", staff(h.AppointmentAudit))
	mux.Handle("POST /api/v1/reservations/reap", staff(h.Reap))
}
