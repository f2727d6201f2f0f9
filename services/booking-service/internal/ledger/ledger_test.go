package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type fakeCounter struct {
	svc          model.Service
	reservations []model.Reservation
	appointments []model.Appointment
}

func (f *fakeCounter) GetService(_ context.Context, businessID, serviceID string) (model.Service, error) {
	if f.svc.BusinessID != businessID || f.svc.ID != serviceID {
		return model.Service{}, model.ErrNotFound
	}
	return f.svc, nil
}

func (f *fakeCounter) CountOccupancy(_ context.Context, w Window, now time.Time) (int, int, error) {
	return f.countReservations(w, now), f.countAppointments(w), nil
}

func (f *fakeCounter) countReservations(w Window, now time.Time) int {
	n := 0
	for _, r := range f.reservations {
		if r.ServiceID == w.ServiceID && !r.Expired(now) && Overlaps(w.Start, w.End, r.SlotStart, r.SlotEnd) {
			n++
		}
	}
	return n
}

func (f *fakeCounter) countAppointments(w Window) int {
	n := 0
	for _, a := range f.appointments {
		if a.ID == w.ExcludeAppointmentID || !a.Status.Occupies() {
			continue
		}
		if a.ServiceID == w.ServiceID && Overlaps(w.Start, w.End, a.StartTime, a.EndTime) {
			n++
		}
	}
	return n
}

func TestRemainingCapacity(t *testing.T) {
	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	nine := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	counter := &fakeCounter{
		svc: model.Service{ID: "svc-1", BusinessID: "biz-1", MaxSimultaneousBookings: 3},
		reservations: []model.Reservation{
			{ServiceID: "svc-1", SlotStart: nine, SlotEnd: nine.Add(30 * time.Minute), ExpiresAt: now.Add(10 * time.Minute)},
			// expires exactly now: inactive
			{ServiceID: "svc-1", SlotStart: nine, SlotEnd: nine.Add(30 * time.Minute), ExpiresAt: now},
		},
		appointments: []model.Appointment{
			{ID: "appt-1", ServiceID: "svc-1", StartTime: nine.Add(15 * time.Minute), EndTime: nine.Add(45 * time.Minute), Status: model.StatusConfirmed},
			{ID: "appt-2", ServiceID: "svc-1", StartTime: nine, EndTime: nine.Add(30 * time.Minute), Status: model.StatusCancelled},
			// touches the window end only: half-open, no overlap
			{ID: "appt-3", ServiceID: "svc-1", StartTime: nine.Add(30 * time.Minute), EndTime: nine.Add(time.Hour), Status: model.StatusConfirmed},
		},
	}
	l := New(counter)
	w := Window{BusinessID: "biz-1", ServiceID: "svc-1", Start: nine, End: nine.Add(30 * time.Minute)}

	got, err := l.RemainingCapacity(context.Background(), w, now)
	if err != nil {
		t.Fatalf("RemainingCapacity failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}

	w.ExcludeAppointmentID = "appt-1"
	got, err = l.RemainingCapacity(context.Background(), w, now)
	if err != nil {
		t.Fatalf("RemainingCapacity failed: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2 remaining with own appointment excluded, got %d", got)
	}
}

func TestRemainingCapacityErrors(t *testing.T) {
	l := New(&fakeCounter{svc: model.Service{ID: "svc-1", BusinessID: "biz-1", MaxSimultaneousBookings: 1}})
	now := time.Now()

	_, err := l.RemainingCapacity(context.Background(), Window{BusinessID: "biz-1", ServiceID: "nope", Start: now, End: now.Add(time.Hour)}, now)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = l.RemainingCapacity(context.Background(), Window{BusinessID: "biz-1", ServiceID: "svc-1", Start: now, End: now}, now)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRemainingClampsAtZero(t *testing.T) {
	if got := Remaining(2, 2, 1); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := Remaining(4, 1, 1); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestCountOverlapping(t *testing.T) {
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	occ := []Occupancy{
		{Start: base, End: base.Add(30 * time.Minute)},
		{Start: base.Add(20 * time.Minute), End: base.Add(50 * time.Minute)},
		{Start: base.Add(time.Hour), End: base.Add(90 * time.Minute)},
	}
	if got := CountOverlapping(occ, base.Add(25*time.Minute), base.Add(55*time.Minute)); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := CountOverlapping(occ, base.Add(50*time.Minute), base.Add(time.Hour)); got != 0 {
		t.Fatalf("expected 0 for a gap between bookings, got %d", got)
	}
}
