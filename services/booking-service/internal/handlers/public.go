package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/appointment"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/reservation"
)

const defaultAvailabilityRange = 7 * 24 * time.Hour

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := availability.Query{
		BusinessID: strings.TrimSpace(q.Get("business_id")),
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
	}
	from, err := parseTimeParam(q.Get("from"), "from")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"), "to")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if from.IsZero() {
		from = h.clock.Now()
	}
	if to.IsZero() {
		to = from.Add(defaultAvailabilityRange)
	}
	query.From, query.To = from, to

	slots, err := h.slots.Slots(r.Context(), query)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"business_id": query.BusinessID,
		"service_id":  query.ServiceID,
		"from":        from.UTC(),
		"to":          to.UTC(),
		"slots":       newSlotViews(slots),
	})
}

type createReservationRequest struct {
	BusinessID     string    `json:"business_id" validate:"required,uuid"`
	ServiceID      string    `json:"service_id" validate:"required,uuid"`
	SlotStart      time.Time `json:"slot_start" validate:"required"`
	SlotEnd        time.Time `json:"slot_end" validate:"required,gtfield=SlotStart"`
	IdempotencyKey string    `json:"idempotency_key" validate:"max=200"`
	TTLMinutes     int       `json:"ttl_minutes" validate:"gte=0,lte=60"`
}

func (h *BookingHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := h.validator.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if key == "" {
		writeError(w, r, h.logger, fmt.Errorf("%w: Idempotency-Key header or idempotency_key is required", model.ErrInvalidInput))
		return
	}

	res, err := h.reservations.Create(r.Context(), reservation.CreateInput{
		BusinessID:     req.BusinessID,
		ServiceID:      req.ServiceID,
		SlotStart:      req.SlotStart,
		SlotEnd:        req.SlotEnd,
		IdempotencyKey: key,
		TTLMinutes:     req.TTLMinutes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newReservationView(res))
}

type commitReservationRequest struct {
	CustomerName      string `json:"customer_name" validate:"max=200"`
	CustomerEmail     string `json:"customer_email" validate:"omitempty,email,max=320"`
	CustomerPhone     string `json:"customer_phone" validate:"max=40"`
	Notes             string `json:"notes" validate:"max=2000"`
	CancellationToken string `json:"cancellation_token" validate:"omitempty,min=16,max=200"`
}

func (h *BookingHandler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	var req commitReservationRequest
	if err := h.validator.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	appt, err := h.appointments.Commit(r.Context(), appointment.CommitInput{
		ReservationID:     r.PathValue("id"),
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerPhone:     req.CustomerPhone,
		Notes:             req.Notes,
		CancellationToken: req.CancellationToken,
		ActorID:           appointment.GuestActor,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newAppointmentView(appt))
}

type cancelByTokenRequest struct {
	CancellationToken string `json:"cancellation_token" validate:"required"`
}

func (h *BookingHandler) CancelByToken(w http.ResponseWriter, r *http.Request) {
	var req cancelByTokenRequest
	if err := h.validator.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	appt, err := h.appointments.CancelByToken(r.Context(), req.CancellationToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	view := newAppointmentView(appt)
	// Guests holding a token only learn the outcome, not the contact details.
	view.CustomerName, view.CustomerEmail, view.CustomerPhone, view.Notes = "", "", "", ""
	httpx.WriteJSON(w, http.StatusOK, view)
}

// parseTimeParam accepts RFC 3339 timestamps; an empty value yields the zero
// time.
func parseTimeParam(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", model.ErrInvalidInput, name)
	}
	return t, nil
}
