package availability

import (
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Grain is the alignment of every slot start, measured from local midnight.
const Grain = 5 * time.Minute

// MaxAdvanceDays caps how far ahead slots are offered, whatever the business
// configured.
const MaxAdvanceDays = 30

const dateLayout = "2006-01-02"

// Schedule is the eligible time domain of one business.
type Schedule struct {
	Location           *time.Location
	Week               [7]model.DayHours
	Exceptions         map[string]model.AvailabilityException // keyed by local date, YYYY-MM-DD
	AdvanceBookingDays int
}

// NewSchedule indexes weekday rules and date exceptions. Weekdays with no
// rule are closed.
func NewSchedule(loc *time.Location, hours []model.DayHours, exceptions []model.AvailabilityException, advanceDays int) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	s := Schedule{
		Location:           loc,
		Exceptions:         make(map[string]model.AvailabilityException, len(exceptions)),
		AdvanceBookingDays: advanceDays,
	}
	for i := range s.Week {
		s.Week[i] = model.DayHours{Weekday: time.Weekday(i)}
	}
	for _, h := range hours {
		if h.Weekday >= time.Sunday && h.Weekday <= time.Saturday {
			s.Week[h.Weekday] = h
		}
	}
	for _, e := range exceptions {
		s.Exceptions[e.Date.Format(dateLayout)] = e
	}
	return s
}

// openMinutes resolves the opening window of a local calendar day.
func (s Schedule) openMinutes(day time.Time) (openMin, closeMin int, ok bool) {
	if e, found := s.Exceptions[day.Format(dateLayout)]; found {
		if e.Closed {
			return 0, 0, false
		}
		if e.OpenMinute != nil && e.CloseMinute != nil {
			return *e.OpenMinute, *e.CloseMinute, *e.CloseMinute > *e.OpenMinute
		}
	}
	h := s.Week[day.Weekday()]
	if !h.Enabled || h.CloseMinute <= h.OpenMinute {
		return 0, 0, false
	}
	return h.OpenMinute, h.CloseMinute, true
}

// Horizon clips [from, to) to the booking horizon measured from now.
func Horizon(from, to, now time.Time, advanceDays, maxDays int) (time.Time, time.Time) {
	if maxDays <= 0 {
		maxDays = MaxAdvanceDays
	}
	days := advanceDays
	if days <= 0 || days > maxDays {
		days = maxDays
	}
	limit := now.AddDate(0, 0, days)
	if to.After(limit) {
		to = limit
	}
	return from, to
}

type Input struct {
	Schedule Schedule
	Service  model.Service
	From     time.Time
	To       time.Time
	Now      time.Time
	// Occupied lists active holds and appointments of the service that may
	// overlap the range.
	Occupied []ledger.Occupancy
	// MaxAdvanceDays overrides the package cap when positive.
	MaxAdvanceDays int
}

// Compute returns one slot per grain-aligned start in [From, To) where the
// service fits inside that day's open window, ordered by start. A slot is
// available iff capacity remains and it starts strictly after Now.
func Compute(in Input) []model.Slot {
	duration := in.Service.Duration()
	if duration <= 0 || !in.Service.Enabled {
		return nil
	}
	from, to := Horizon(in.From, in.To, in.Now, in.Schedule.AdvanceBookingDays, in.MaxAdvanceDays)
	if !to.After(from) {
		return nil
	}

	loc := in.Schedule.Location
	if loc == nil {
		loc = time.UTC
	}
	grain := int(Grain / time.Minute)
	capacity := in.Service.MaxSimultaneousBookings

	var slots []model.Slot
	var last time.Time
	localFrom := from.In(loc)
	for day := time.Date(localFrom.Year(), localFrom.Month(), localFrom.Day(), 0, 0, 0, 0, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		openMin, closeMin, ok := in.Schedule.openMinutes(day)
		if !ok {
			continue
		}
		first := (openMin + grain - 1) / grain * grain
		closeAt := time.Date(day.Year(), day.Month(), day.Day(), 0, closeMin, 0, 0, loc)
		for m := first; m < closeMin; m += grain {
			start := time.Date(day.Year(), day.Month(), day.Day(), 0, m, 0, 0, loc)
			end := start.Add(duration)
			if end.After(closeAt) {
				break
			}
			if start.Before(from) || !start.Before(to) {
				continue
			}
			// Wall-clock minutes skipped by a DST jump normalize onto an
			// instant already emitted.
			if !last.IsZero() && !start.After(last) {
				continue
			}
			last = start

			remaining := ledger.Remaining(capacity, ledger.CountOverlapping(in.Occupied, start, end), 0)
			slots = append(slots, model.Slot{
				Start:             start,
				End:               end,
				Available:         remaining > 0 && start.After(in.Now),
				CapacityRemaining: remaining,
				CapacityTotal:     capacity,
			})
		}
	}
	return slots
}
