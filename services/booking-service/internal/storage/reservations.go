package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const reservationColumns = `id, business_id, service_id, slot_start, slot_end, idempotency_key, created_at, expires_at`

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var res model.Reservation
	err := row.Scan(&res.ID, &res.BusinessID, &res.ServiceID, &res.SlotStart, &res.SlotEnd, &res.IdempotencyKey, &res.CreatedAt, &res.ExpiresAt)
	return res, err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error) {
	res, err := scanReservation(r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE idempotency_key = $1
	`, key))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("find reservation by idempotency key", err)
	}
	return &res, nil
}

func (r *BookingRepository) InsertReservation(ctx context.Context, res model.Reservation) error {
	_, err := r.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, res.ID, res.BusinessID, res.ServiceID, res.SlotStart, res.SlotEnd, res.IdempotencyKey, res.CreatedAt, res.ExpiresAt)
	if db.IsUniqueViolation(err) {
		return model.ErrIdempotencyConflict
	}
	return mapErr("insert reservation", err)
}

func (r *BookingRepository) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	res, err := scanReservation(r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id))
	return res, mapErr("get reservation", err)
}

func (r *BookingRepository) GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error) {
	res, err := scanReservation(r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id))
	return res, mapErr("lock reservation", err)
}

func (r *BookingRepository) DeleteReservation(ctx context.Context, id string) error {
	_, err := r.pool.Conn(ctx).Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	return mapErr("delete reservation", err)
}

func (r *BookingRepository) DeleteExpiredReservations(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Conn(ctx).Exec(ctx, `DELETE FROM reservations WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr("delete expired reservations", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountOccupancy counts both tables in one statement so both counts come
// from the same snapshot.
func (r *BookingRepository) CountOccupancy(ctx context.Context, w ledger.Window, now time.Time) (int, int, error) {
	var holds, appts int
	err := r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT count(*)
			FROM reservations
			WHERE business_id = $1 AND service_id = $2
				AND expires_at > $3
				AND slot_start < $5 AND slot_end > $4),
			(SELECT count(*)
			FROM appointments
			WHERE business_id = $1 AND service_id = $2
				AND status <> 'cancelled'
				AND start_time < $5 AND end_time > $4
				AND id IS DISTINCT FROM NULLIF($6, '')::uuid)
	`, w.BusinessID, w.ServiceID, now, w.Start, w.End, w.ExcludeAppointmentID).Scan(&holds, &appts)
	if err != nil {
		return 0, 0, mapErr("count occupancy", err)
	}
	return holds, appts, nil
}
