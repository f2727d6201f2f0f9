package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

const serviceColumns = `id, business_id, name, duration_minutes, max_simultaneous_bookings, enabled`

func scanService(row pgx.Row) (model.Service, error) {
	var s model.Service
	err := row.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.MaxSimultaneousBookings, &s.Enabled)
	return s, err
}

func (r *BookingRepository) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	s, err := scanService(r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE id = $1 AND business_id = $2
	`, serviceID, businessID))
	return s, mapErr("get service", err)
}

// GetServiceForUpdate is the serialization point for every capacity write
// on the service.
func (r *BookingRepository) GetServiceForUpdate(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	s, err := scanService(r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, serviceID, businessID))
	return s, mapErr("lock service", err)
}

// GetBusinessSettings falls back to UTC and the horizon cap when the
// business has no settings row.
func (r *BookingRepository) GetBusinessSettings(ctx context.Context, businessID string) (model.BusinessSettings, error) {
	settings := model.BusinessSettings{BusinessID: businessID, Timezone: "UTC"}
	err := r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT timezone, advance_booking_days
		FROM business_settings
		WHERE business_id = $1
	`, businessID).Scan(&settings.Timezone, &settings.AdvanceBookingDays)
	if err != nil && !isNoRows(err) {
		return model.BusinessSettings{}, mapErr("get business settings", err)
	}
	return settings, nil
}

func (r *BookingRepository) ListDayHours(ctx context.Context, businessID string) ([]model.DayHours, error) {
	rows, err := r.pool.Conn(ctx).Query(ctx, `
		SELECT weekday, enabled, open_minute, close_minute
		FROM business_hours
		WHERE business_id = $1
		ORDER BY weekday
	`, businessID)
	if err != nil {
		return nil, mapErr("list business hours", err)
	}
	defer rows.Close()

	var hours []model.DayHours
	for rows.Next() {
		var h model.DayHours
		var weekday int16
		if err := rows.Scan(&weekday, &h.Enabled, &h.OpenMinute, &h.CloseMinute); err != nil {
			return nil, err
		}
		h.Weekday = time.Weekday(weekday)
		hours = append(hours, h)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return hours, nil
}

// ListExceptions returns exceptions dated within [fromDate, toDate].
func (r *BookingRepository) ListExceptions(ctx context.Context, businessID string, fromDate, toDate time.Time) ([]model.AvailabilityException, error) {
	rows, err := r.pool.Conn(ctx).Query(ctx, `
		SELECT date, closed, open_minute, close_minute
		FROM availability_exceptions
		WHERE business_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date
	`, businessID, fromDate.Format("2006-01-02"), toDate.Format("2006-01-02"))
	if err != nil {
		return nil, mapErr("list availability exceptions", err)
	}
	defer rows.Close()

	var out []model.AvailabilityException
	for rows.Next() {
		var e model.AvailabilityException
		if err := rows.Scan(&e.Date, &e.Closed, &e.OpenMinute, &e.CloseMinute); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListOccupancy returns every active hold and appointment of the service
// overlapping [from, to), with the same activeness rules the counters use.
func (r *BookingRepository) ListOccupancy(ctx context.Context, businessID, serviceID string, from, to, now time.Time) ([]ledger.Occupancy, error) {
	rows, err := r.pool.Conn(ctx).Query(ctx, `
		SELECT slot_start, slot_end
		FROM reservations
		WHERE business_id = $1 AND service_id = $2
			AND expires_at > $5
			AND slot_start < $4 AND slot_end > $3
		UNION ALL
		SELECT start_time, end_time
		FROM appointments
		WHERE business_id = $1 AND service_id = $2
			AND status <> 'cancelled'
			AND start_time < $4 AND end_time > $3
	`, businessID, serviceID, from, to, now)
	if err != nil {
		return nil, mapErr("list occupancy", err)
	}
	defer rows.Close()

	var out []ledger.Occupancy
	for rows.Next() {
		var o ledger.Occupancy
		if err := rows.Scan(&o.Start, &o.End); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
