package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Store reads everything Compute needs. WithReadTx must give all reads one
// snapshot so capacity figures are consistent with each other.
type Store interface {
	WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	GetBusinessSettings(ctx context.Context, businessID string) (model.BusinessSettings, error)
	ListDayHours(ctx context.Context, businessID string) ([]model.DayHours, error)
	ListExceptions(ctx context.Context, businessID string, fromDate, toDate time.Time) ([]model.AvailabilityException, error)
	ListOccupancy(ctx context.Context, businessID, serviceID string, from, to, now time.Time) ([]ledger.Occupancy, error)
}

type Calculator struct {
	store          Store
	clock          clock.Clock
	maxAdvanceDays int
}

type Option func(*Calculator)

// WithMaxAdvanceDays lowers the booking horizon cap below MaxAdvanceDays.
func WithMaxAdvanceDays(days int) Option {
	return func(c *Calculator) {
		if days > 0 && days < MaxAdvanceDays {
			c.maxAdvanceDays = days
		}
	}
}

func NewCalculator(store Store, clk clock.Clock, opts ...Option) *Calculator {
	c := &Calculator{store: store, clock: clk, maxAdvanceDays: MaxAdvanceDays}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Query struct {
	BusinessID string
	ServiceID  string
	From       time.Time
	To         time.Time
}

// Slots lists candidate slots for the query range. Unknown or disabled
// services yield ErrNotFound.
func (c *Calculator) Slots(ctx context.Context, q Query) ([]model.Slot, error) {
	if q.BusinessID == "" || q.ServiceID == "" {
		return nil, fmt.Errorf("%w: business_id and service_id are required", model.ErrInvalidInput)
	}
	if !q.To.After(q.From) {
		return nil, fmt.Errorf("%w: range end must be after start", model.ErrInvalidInput)
	}

	now := c.clock.Now()
	var in Input
	err := c.store.WithReadTx(ctx, func(ctx context.Context) error {
		svc, err := c.store.GetService(ctx, q.BusinessID, q.ServiceID)
		if err != nil {
			return err
		}
		if !svc.Enabled {
			return fmt.Errorf("service %s: %w", q.ServiceID, model.ErrNotFound)
		}
		settings, err := c.store.GetBusinessSettings(ctx, q.BusinessID)
		if err != nil {
			return err
		}
		loc, err := time.LoadLocation(settings.Timezone)
		if err != nil {
			return fmt.Errorf("business %s timezone %q: %w", q.BusinessID, settings.Timezone, err)
		}

		from, to := Horizon(q.From, q.To, now, settings.AdvanceBookingDays, c.maxAdvanceDays)
		if !to.After(from) {
			in = Input{Service: svc}
			return nil
		}

		hours, err := c.store.ListDayHours(ctx, q.BusinessID)
		if err != nil {
			return err
		}
		exceptions, err := c.store.ListExceptions(ctx, q.BusinessID, civilDate(from.In(loc)), civilDate(to.In(loc)))
		if err != nil {
			return err
		}
		occupied, err := c.store.ListOccupancy(ctx, q.BusinessID, q.ServiceID, from, to.Add(svc.Duration()), now)
		if err != nil {
			return err
		}

		in = Input{
			Schedule:       NewSchedule(loc, hours, exceptions, settings.AdvanceBookingDays),
			Service:        svc,
			From:           from,
			To:             to,
			Now:            now,
			Occupied:       occupied,
			MaxAdvanceDays: c.maxAdvanceDays,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if in.Schedule.Location == nil {
		return []model.Slot{}, nil
	}
	slots := Compute(in)
	if slots == nil {
		slots = []model.Slot{}
	}
	return slots, nil
}

// civilDate maps a local instant to midnight UTC of the same calendar date,
// the form DATE columns round-trip through.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
