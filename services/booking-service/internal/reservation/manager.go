package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const (
	DefaultTTL = 15 * time.Minute
	MinTTL     = time.Minute
	MaxTTL     = 60 * time.Minute
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// GetServiceForUpdate locks the service row until the transaction ends.
	GetServiceForUpdate(ctx context.Context, businessID, serviceID string) (model.Service, error)
	// FindByIdempotencyKey returns nil when no row carries the key.
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error)
	InsertReservation(ctx context.Context, r model.Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	DeleteExpiredReservations(ctx context.Context, now time.Time) (int, error)
}

type Manager struct {
	store  Store
	ledger *ledger.Ledger
	clock  clock.Clock
	ttl    time.Duration
}

type Option func(*Manager)

// WithDefaultTTL sets the TTL used when a create asks for none.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d >= MinTTL && d <= MaxTTL {
			m.ttl = d
		}
	}
}

func NewManager(store Store, l *ledger.Ledger, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{store: store, ledger: l, clock: clk, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type CreateInput struct {
	BusinessID     string
	ServiceID      string
	SlotStart      time.Time
	SlotEnd        time.Time
	IdempotencyKey string
	// TTLMinutes of zero uses the manager default.
	TTLMinutes int
}

func (in CreateInput) validate(now time.Time) error {
	switch {
	case in.BusinessID == "" || in.ServiceID == "":
		return fmt.Errorf("%w: business_id and service_id are required", model.ErrInvalidInput)
	case in.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", model.ErrInvalidInput)
	case !in.SlotEnd.After(in.SlotStart):
		return fmt.Errorf("%w: slot end must be after slot start", model.ErrInvalidInput)
	case !in.SlotStart.After(now):
		return fmt.Errorf("%w: slot starts in the past", model.ErrInvalidInput)
	case in.TTLMinutes < 0 || time.Duration(in.TTLMinutes)*time.Minute > MaxTTL:
		return fmt.Errorf("%w: ttl must be between 1 and 60 minutes", model.ErrInvalidInput)
	}
	return nil
}

// Create holds one unit of capacity for the slot. A replay with the same
// key and parameters returns the live hold unchanged; an expired hold frees
// its key for reuse.
func (m *Manager) Create(ctx context.Context, in CreateInput) (model.Reservation, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "reservation.create",
		trace.WithAttributes(
			attribute.String("business_id", in.BusinessID),
			attribute.String("service_id", in.ServiceID),
		),
	)
	defer span.End()

	now := m.clock.Now()
	if err := in.validate(now); err != nil {
		return model.Reservation{}, err
	}
	ttl := m.ttl
	if in.TTLMinutes > 0 {
		ttl = time.Duration(in.TTLMinutes) * time.Minute
	}

	if existing, err := m.store.FindByIdempotencyKey(ctx, in.IdempotencyKey); err != nil {
		span.RecordError(err)
		return model.Reservation{}, err
	} else if res, replay, err := replayOf(existing, in, now); replay || err != nil {
		span.SetAttributes(attribute.Bool("replay", replay))
		return res, err
	}

	var result model.Reservation
	err := m.store.WithTx(ctx, func(txCtx context.Context) error {
		svc, err := m.store.GetServiceForUpdate(txCtx, in.BusinessID, in.ServiceID)
		if err != nil {
			return err
		}
		if !svc.Enabled {
			return fmt.Errorf("service %s: %w", in.ServiceID, model.ErrNotFound)
		}
		// Expiry and capacity are judged at the time the lock was granted.
		now = m.clock.Now()

		// A concurrent retry may have committed while we waited on the lock.
		existing, err := m.store.FindByIdempotencyKey(txCtx, in.IdempotencyKey)
		if err != nil {
			return err
		}
		if res, replay, err := replayOf(existing, in, now); replay || err != nil {
			result = res
			return err
		}
		if existing != nil {
			if err := m.store.DeleteReservation(txCtx, existing.ID); err != nil {
				return err
			}
		}

		remaining, err := m.ledger.RemainingFor(txCtx, svc, ledger.Window{
			BusinessID: in.BusinessID,
			ServiceID:  in.ServiceID,
			Start:      in.SlotStart,
			End:        in.SlotEnd,
		}, now)
		if err != nil {
			return err
		}
		if remaining <= 0 {
			return model.ErrCapacityExceeded
		}

		res := model.Reservation{
			ID:             uuid.NewString(),
			BusinessID:     in.BusinessID,
			ServiceID:      in.ServiceID,
			SlotStart:      in.SlotStart,
			SlotEnd:        in.SlotEnd,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
			ExpiresAt:      now.Add(ttl),
		}
		if err := m.store.InsertReservation(txCtx, res); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return model.Reservation{}, err
	}
	return result, nil
}

// replayOf decides what an existing row under the key means for this
// request. Expired rows are treated as absent.
func replayOf(existing *model.Reservation, in CreateInput, now time.Time) (model.Reservation, bool, error) {
	if existing == nil || existing.Expired(now) {
		return model.Reservation{}, false, nil
	}
	if !existing.SameRequest(in.BusinessID, in.ServiceID, in.SlotStart, in.SlotEnd) {
		return model.Reservation{}, false, model.ErrIdempotencyConflict
	}
	return *existing, true, nil
}

// CleanupExpired deletes every hold whose expires_at has passed and reports
// how many were removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "reservation.cleanup_expired")
	defer span.End()

	n, err := m.store.DeleteExpiredReservations(ctx, m.clock.Now())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("reaped", n))
	return n, nil
}
