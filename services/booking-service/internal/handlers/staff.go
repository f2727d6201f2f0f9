package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/appointment"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const defaultAuditLimit = 100

var errForbidden = errors.New("forbidden")

// businessScope resolves the business a staff request operates on. Actors
// bound to a business may only reach that business.
func businessScope(r *http.Request) (string, auth.Actor, error) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return "", auth.Actor{}, errForbidden
	}
	requested := strings.TrimSpace(r.URL.Query().Get("business_id"))
	switch {
	case actor.BusinessID != "" && requested != "" && requested != actor.BusinessID:
		return "", actor, errForbidden
	case actor.BusinessID != "":
		return actor.BusinessID, actor, nil
	case requested != "":
		return requested, actor, nil
	default:
		return "", actor, fmt.Errorf("%w: business_id is required", model.ErrInvalidInput)
	}
}

func (h *BookingHandler) scopeOrError(w http.ResponseWriter, r *http.Request) (string, auth.Actor, bool) {
	businessID, actor, err := businessScope(r)
	if errors.Is(err, errForbidden) {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "business access denied")
		return "", actor, false
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return "", actor, false
	}
	return businessID, actor, true
}

func (h *BookingHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	businessID, _, ok := h.scopeOrError(w, r)
	if !ok {
		return
	}
	appt, err := h.appointments.Get(r.Context(), businessID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newAppointmentView(appt))
}

func (h *BookingHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	businessID, _, ok := h.scopeOrError(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
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
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, r, h.logger, fmt.Errorf("%w: limit must be a positive integer", model.ErrInvalidInput))
			return
		}
	}

	items, err := h.appointments.List(r.Context(), appointment.ListFilter{
		BusinessID: businessID,
		From:       from,
		To:         to,
		Status:     model.AppointmentStatus(strings.TrimSpace(q.Get("status"))),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	views := make([]appointmentView, 0, len(items))
	for _, a := range items {
		views = append(views, newAppointmentView(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": views})
}

type updateAppointmentRequest struct {
	Status          *string    `json:"status" validate:"omitempty,oneof=confirmed completed cancelled no_show"`
	StartTime       *time.Time `json:"start_time"`
	ServiceID       *string    `json:"service_id" validate:"omitempty,uuid"`
	ExpectedVersion int        `json:"expected_version" validate:"required,min=1"`
}

func (h *BookingHandler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	businessID, actor, ok := h.scopeOrError(w, r)
	if !ok {
		return
	}
	var req updateAppointmentRequest
	if err := h.validator.decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	id := r.PathValue("id")
	if _, err := h.appointments.Get(r.Context(), businessID, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	in := appointment.UpdateInput{
		AppointmentID:   id,
		NewStartTime:    req.StartTime,
		ServiceID:       req.ServiceID,
		ExpectedVersion: req.ExpectedVersion,
		ActorID:         actor.ID,
	}
	if req.Status != nil {
		status := model.AppointmentStatus(*req.Status)
		in.Status = &status
	}
	appt, err := h.appointments.Update(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newAppointmentView(appt))
}

func (h *BookingHandler) AppointmentAudit(w http.ResponseWriter, r *http.Request) {
	businessID, _, ok := h.scopeOrError(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, err := h.appointments.Get(r.Context(), businessID, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	entries, err := h.audit.ListForAppointment(r.Context(), businessID, id, defaultAuditLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *BookingHandler) Reap(w http.ResponseWriter, r *http.Request) {
	n, err := h.reservations.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"reaped": n})
}
