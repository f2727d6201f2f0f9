// Package ledger answers "how many more bookings fit in this window".
//
// A reservation occupies capacity while expires_at > now; an appointment
// occupies capacity unless it is cancelled. Both the SQL counters used by
// the write paths and the in-memory counting used for availability apply
// exactly these rules over half-open windows.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Window is one capacity question for a service over [Start, End).
type Window struct {
	BusinessID string
	ServiceID  string
	Start      time.Time
	End        time.Time
	// ExcludeAppointmentID drops one appointment's own occupancy, so an
	// appointment being moved is never blocked by itself.
	ExcludeAppointmentID string
}

type Counter interface {
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	// CountOccupancy counts live holds and occupying appointments in w from
	// one snapshot, so a commit landing mid-count is never seen twice.
	CountOccupancy(ctx context.Context, w Window, now time.Time) (holds, appointments int, err error)
}

type Ledger struct {
	counter Counter
}

func New(counter Counter) *Ledger {
	return &Ledger{counter: counter}
}

// RemainingCapacity loads the service's ceiling and subtracts current
// occupancy. Callers on a write path must invoke it inside the transaction
// that holds the service lock.
func (l *Ledger) RemainingCapacity(ctx context.Context, w Window, now time.Time) (int, error) {
	svc, err := l.counter.GetService(ctx, w.BusinessID, w.ServiceID)
	if err != nil {
		return 0, err
	}
	return l.RemainingFor(ctx, svc, w, now)
}

// RemainingFor is RemainingCapacity for a service the caller already holds.
func (l *Ledger) RemainingFor(ctx context.Context, svc model.Service, w Window, now time.Time) (int, error) {
	if !w.End.After(w.Start) {
		return 0, fmt.Errorf("%w: window end must be after start", model.ErrInvalidInput)
	}
	holds, appts, err := l.counter.CountOccupancy(ctx, w, now)
	if err != nil {
		return 0, err
	}
	return Remaining(svc.MaxSimultaneousBookings, holds, appts), nil
}

// Remaining never reports less than zero, even if the ceiling was lowered
// below current occupancy.
func Remaining(capacity, holds, appointments int) int {
	r := capacity - holds - appointments
	if r < 0 {
		return 0
	}
	return r
}

// Occupancy is one active hold or appointment as seen by availability.
type Occupancy struct {
	Start time.Time
	End   time.Time
}

// Overlaps treats both ranges as half-open: [aStart,aEnd) overlaps
// [bStart,bEnd) iff aStart < bEnd && bStart < aEnd.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func CountOverlapping(occupied []Occupancy, start, end time.Time) int {
	n := 0
	for _, o := range occupied {
		if Overlaps(start, end, o.Start, o.End) {
			n++
		}
	}
	return n
}
