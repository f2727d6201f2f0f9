package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/appointment"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const appointmentColumns = `id, business_id, service_id, start_time, end_time, status,
	customer_name, customer_email, customer_phone, notes, version, created_at, updated_at, cancelled_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.BusinessID, &a.ServiceID, &a.StartTime, &a.EndTime, &status,
		&a.CustomerName, &a.CustomerEmail, &a.CustomerPhone, &a.Notes, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.CancelledAt)
	a.Status = model.AppointmentStatus(status)
	return a, err
}

func (r *BookingRepository) InsertAppointment(ctx context.Context, a model.Appointment, tokenHash string) error {
	_, err := r.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO appointments
			(id, business_id, service_id, start_time, end_time, status,
			customer_name, customer_email, customer_phone, notes, cancellation_token_hash, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, a.ID, a.BusinessID, a.ServiceID, a.StartTime, a.EndTime, string(a.Status),
		a.CustomerName, a.CustomerEmail, a.CustomerPhone, a.Notes, tokenHash, a.Version, a.CreatedAt, a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("insert appointment: %w: cancellation token already in use", model.ErrInvalidInput)
	}
	return mapErr("insert appointment", err)
}

func (r *BookingRepository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	return a, mapErr("get appointment", err)
}

func (r *BookingRepository) FindAppointmentByTokenHash(ctx context.Context, tokenHash string) (model.Appointment, error) {
	a, err := scanAppointment(r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE cancellation_token_hash = $1
	`, tokenHash))
	return a, mapErr("find appointment by token", err)
}

// UpdateAppointment is the optimistic write: it matches only while the
// stored version is still expectedVersion.
func (r *BookingRepository) UpdateAppointment(ctx context.Context, a model.Appointment, expectedVersion int) (model.Appointment, error) {
	updated, err := scanAppointment(r.pool.Conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET service_id = $3,
			start_time = $4,
			end_time = $5,
			status = $6,
			cancelled_at = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+appointmentColumns,
		a.ID, expectedVersion, a.ServiceID, a.StartTime, a.EndTime, string(a.Status), a.CancelledAt, a.UpdatedAt))
	if isNoRows(err) {
		return model.Appointment{}, model.ErrConflict
	}
	return updated, mapErr("update appointment", err)
}

func (r *BookingRepository) ListAppointments(ctx context.Context, f appointment.ListFilter) ([]model.Appointment, error) {
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := r.pool.Conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND ($2::timestamptz IS NULL OR end_time > $2)
			AND ($3::timestamptz IS NULL OR start_time < $3)
			AND ($4 = '' OR status = $4)
		ORDER BY start_time, id
		LIMIT $5
	`, f.BusinessID, from, to, string(f.Status), f.Limit)
	if err != nil {
		return nil, mapErr("list appointments", err)
	}
	defer rows.Close()

	appts := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
