package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/db"
)

const (
	ActionCreated     = "appointment.created"
	ActionUpdated     = "appointment.updated"
	ActionCancelled   = "appointment.cancelled"
	ActionRescheduled = "appointment.rescheduled"
)

// Entry is one append-only record of a successful appointment mutation.
type Entry struct {
	ID            int64           `json:"id"`
	AppointmentID string          `json:"appointment_id"`
	BusinessID    string          `json:"business_id"`
	ActorID       string          `json:"actor_id,omitempty"`
	Action        string          `json:"action"`
	Changes       json.RawMessage `json:"changes"`
	FromVersion   int             `json:"from_version"`
	ToVersion     int             `json:"to_version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Change is the before/after pair of one field.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Changes marshals a field -> Change map for Entry.Changes.
func Changes(fields map[string]Change) (json.RawMessage, error) {
	if len(fields) == 0 {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal audit changes: %w", err)
	}
	return raw, nil
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append writes through the transaction in ctx when there is one, so the
// entry commits or rolls back with the mutation it describes.
func (r *Repository) Append(ctx context.Context, e Entry) error {
	changes := e.Changes
	if len(changes) == 0 {
		changes = json.RawMessage(`{}`)
	}
	_, err := r.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (appointment_id, business_id, actor_id, action, changes, from_version, to_version, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, e.AppointmentID, e.BusinessID, e.ActorID, e.Action, changes, e.FromVersion, e.ToVersion, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *Repository) ListForAppointment(ctx context.Context, businessID, appointmentID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Conn(ctx).Query(ctx, `
		SELECT id, appointment_id, business_id, COALESCE(actor_id, ''), action, changes, from_version, to_version, created_at
		FROM audit_log
		WHERE business_id = $1 AND appointment_id = $2
		ORDER BY id
		LIMIT $3
	`, businessID, appointmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.BusinessID, &e.ActorID, &e.Action, &e.Changes, &e.FromVersion, &e.ToVersion, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
