package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/appointment"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/reservation"
)

var (
	_ availability.Store = (*BookingRepository)(nil)
	_ ledger.Counter     = (*BookingRepository)(nil)
	_ reservation.Store  = (*BookingRepository)(nil)
	_ appointment.Store  = (*BookingRepository)(nil)
)

// BookingRepository is the PostgreSQL store behind availability, the
// ledger and both managers. Every method runs on the transaction carried in
// ctx when there is one.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return transient(r.pool.WithTx(ctx, pgx.TxOptions{}, fn))
}

// WithReadTx gives availability one consistent snapshot.
func (r *BookingRepository) WithReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return transient(r.pool.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn))
}

func transient(err error) error {
	if err != nil && db.IsRetryable(err) {
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	return err
}

// mapErr turns driver errors into model sentinels and wraps the rest.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err):
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	case db.IsInvalidText(err):
		return fmt.Errorf("%s: %w: malformed id", op, model.ErrInvalidInput)
	case db.IsRetryable(err):
		return fmt.Errorf("%s: %w: %v", op, model.ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
