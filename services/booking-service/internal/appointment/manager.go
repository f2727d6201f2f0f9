package appointment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/audit"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

// GuestActor is recorded for mutations made with a cancellation token.
const GuestActor = "guest"

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	// GetReservationForUpdate locks the hold until the transaction ends.
	GetReservationForUpdate(ctx context.Context, id string) (model.Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
	GetServiceForUpdate(ctx context.Context, businessID, serviceID string) (model.Service, error)
	InsertAppointment(ctx context.Context, a model.Appointment, tokenHash string) error
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	FindAppointmentByTokenHash(ctx context.Context, tokenHash string) (model.Appointment, error)
	// UpdateAppointment writes a's mutable fields with version+1 only if the
	// stored version is still expectedVersion; otherwise ErrConflict.
	UpdateAppointment(ctx context.Context, a model.Appointment, expectedVersion int) (model.Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]model.Appointment, error)
}

type AuditLog interface {
	Append(ctx context.Context, e audit.Entry) error
}

type Outbox interface {
	Enqueue(ctx context.Context, evt outbox.Event) error
}

type Manager struct {
	store  Store
	ledger *ledger.Ledger
	audit  AuditLog
	outbox Outbox
	clock  clock.Clock
}

func NewManager(store Store, l *ledger.Ledger, auditLog AuditLog, events Outbox, clk clock.Clock) *Manager {
	return &Manager{store: store, ledger: l, audit: auditLog, outbox: events, clock: clk}
}

type CommitInput struct {
	ReservationID     string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	Notes             string
	CancellationToken string
	ActorID           string
}

// Commit converts a live reservation into a confirmed appointment. The
// reservation is consumed in the same transaction, so a hold commits at most
// once. Expiry is judged by the clock read after the service row and the
// hold are both locked. The returned appointment carries the raw
// cancellation token.
func (m *Manager) Commit(ctx context.Context, in CommitInput) (model.Appointment, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "appointment.commit",
		trace.WithAttributes(attribute.String("reservation_id", in.ReservationID)),
	)
	defer span.End()

	if in.ReservationID == "" {
		return model.Appointment{}, fmt.Errorf("%w: reservation id is required", model.ErrInvalidInput)
	}
	if in.CustomerEmail == "" && in.CustomerPhone == "" {
		return model.Appointment{}, fmt.Errorf("%w: customer email or phone is required", model.ErrInvalidInput)
	}
	if in.CustomerEmail != "" {
		if _, err := mail.ParseAddress(in.CustomerEmail); err != nil {
			return model.Appointment{}, fmt.Errorf("%w: customer email is invalid", model.ErrInvalidInput)
		}
	}
	token := strings.TrimSpace(in.CancellationToken)
	if token == "" {
		token = NewCancellationToken()
	}

	var result model.Appointment
	err := m.store.WithTx(ctx, func(txCtx context.Context) error {
		held, err := m.store.GetReservation(txCtx, in.ReservationID)
		if err != nil {
			return err
		}
		// Same lock order as reservation creation: service, then hold.
		if _, err := m.store.GetServiceForUpdate(txCtx, held.BusinessID, held.ServiceID); err != nil {
			return err
		}
		res, err := m.store.GetReservationForUpdate(txCtx, in.ReservationID)
		if err != nil {
			return err
		}
		now := m.clock.Now()
		if res.Expired(now) {
			return model.ErrExpired
		}

		appt := model.Appointment{
			ID:            uuid.NewString(),
			BusinessID:    res.BusinessID,
			ServiceID:     res.ServiceID,
			StartTime:     res.SlotStart,
			EndTime:       res.SlotEnd,
			Status:        model.StatusConfirmed,
			CustomerName:  in.CustomerName,
			CustomerEmail: in.CustomerEmail,
			CustomerPhone: in.CustomerPhone,
			Notes:         in.Notes,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := m.store.InsertAppointment(txCtx, appt, HashToken(token)); err != nil {
			return err
		}
		if err := m.store.DeleteReservation(txCtx, res.ID); err != nil {
			return err
		}
		if err := m.record(txCtx, appt, audit.ActionCreated, outbox.TypeAppointmentCreated, in.ActorID, 0, map[string]audit.Change{
			"reservation_id": {From: res.ID, To: nil},
		}); err != nil {
			return err
		}
		result = appt
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return model.Appointment{}, err
	}
	result.CancellationToken = token
	span.SetAttributes(attribute.String("appointment_id", result.ID))
	return result, nil
}

type UpdateInput struct {
	AppointmentID   string
	Status          *model.AppointmentStatus
	NewStartTime    *time.Time
	ServiceID       *string
	ExpectedVersion int
	ActorID         string
}

func (in UpdateInput) empty() bool {
	return in.Status == nil && in.NewStartTime == nil && in.ServiceID == nil
}

// Update applies a status change, reschedule or service change when the
// caller's version is still current. Each success bumps the version by one.
func (m *Manager) Update(ctx context.Context, in UpdateInput) (model.Appointment, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "appointment.update",
		trace.WithAttributes(
			attribute.String("appointment_id", in.AppointmentID),
			attribute.Int("expected_version", in.ExpectedVersion),
		),
	)
	defer span.End()

	if in.AppointmentID == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment id is required", model.ErrInvalidInput)
	}
	if in.ExpectedVersion < 1 {
		return model.Appointment{}, fmt.Errorf("%w: expected version is required", model.ErrInvalidInput)
	}
	if in.empty() {
		return model.Appointment{}, fmt.Errorf("%w: nothing to update", model.ErrInvalidInput)
	}
	if in.Status != nil && !in.Status.Valid() {
		return model.Appointment{}, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, *in.Status)
	}

	var result model.Appointment
	err := m.store.WithTx(ctx, func(txCtx context.Context) error {
		updated, err := m.update(txCtx, in, m.clock.Now())
		result = updated
		return err
	})
	if err != nil {
		span.RecordError(err)
		return model.Appointment{}, err
	}
	return result, nil
}

func (m *Manager) update(ctx context.Context, in UpdateInput, now time.Time) (model.Appointment, error) {
	current, err := m.store.GetAppointment(ctx, in.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if current.Version != in.ExpectedVersion {
		return model.Appointment{}, model.ErrConflict
	}
	if current.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("%w: appointment is %s", model.ErrInvalidTransition, current.Status)
	}

	next := current
	changes := map[string]audit.Change{}
	if in.Status != nil && *in.Status != current.Status {
		if !model.CanTransition(current.Status, *in.Status) {
			return model.Appointment{}, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current.Status, *in.Status)
		}
		next.Status = *in.Status
		changes["status"] = audit.Change{From: current.Status, To: next.Status}
		if next.Status == model.StatusCancelled {
			cancelledAt := now
			next.CancelledAt = &cancelledAt
		}
	}

	moved := false
	if in.ServiceID != nil && *in.ServiceID != current.ServiceID {
		if *in.ServiceID == "" {
			return model.Appointment{}, fmt.Errorf("%w: service id must not be empty", model.ErrInvalidInput)
		}
		next.ServiceID = *in.ServiceID
		changes["service_id"] = audit.Change{From: current.ServiceID, To: next.ServiceID}
		moved = true
	}
	if in.NewStartTime != nil && !in.NewStartTime.Equal(current.StartTime) {
		if !in.NewStartTime.After(now) {
			return model.Appointment{}, fmt.Errorf("%w: new start time is in the past", model.ErrInvalidInput)
		}
		next.StartTime = in.NewStartTime.UTC()
		moved = true
	}

	if moved {
		if err := m.checkMove(ctx, current, &next, now); err != nil {
			return model.Appointment{}, err
		}
	}
	if !next.StartTime.Equal(current.StartTime) || !next.EndTime.Equal(current.EndTime) {
		changes["start_time"] = audit.Change{From: current.StartTime, To: next.StartTime}
		changes["end_time"] = audit.Change{From: current.EndTime, To: next.EndTime}
	}

	next.UpdatedAt = now
	updated, err := m.store.UpdateAppointment(ctx, next, in.ExpectedVersion)
	if err != nil {
		return model.Appointment{}, err
	}

	action, eventType := audit.ActionUpdated, outbox.TypeAppointmentUpdated
	switch {
	case updated.Status == model.StatusCancelled && current.Status != model.StatusCancelled:
		action, eventType = audit.ActionCancelled, outbox.TypeAppointmentCancelled
	case !updated.StartTime.Equal(current.StartTime):
		action = audit.ActionRescheduled
	}
	if err := m.record(ctx, updated, action, eventType, in.ActorID, current.Version, changes); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

// checkMove locks the target service, derives the new end time and, unless
// the appointment is being cancelled, verifies the new window has room
// without counting the appointment itself.
func (m *Manager) checkMove(ctx context.Context, current model.Appointment, next *model.Appointment, now time.Time) error {
	svc, err := m.store.GetServiceForUpdate(ctx, current.BusinessID, next.ServiceID)
	if err != nil {
		return err
	}
	if !svc.Enabled {
		return fmt.Errorf("service %s: %w", next.ServiceID, model.ErrNotFound)
	}
	next.EndTime = next.StartTime.Add(svc.Duration())
	if !next.Status.Occupies() {
		return nil
	}
	remaining, err := m.ledger.RemainingFor(ctx, svc, ledger.Window{
		BusinessID:           current.BusinessID,
		ServiceID:            next.ServiceID,
		Start:                next.StartTime,
		End:                  next.EndTime,
		ExcludeAppointmentID: current.ID,
	}, now)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		return model.ErrCapacityExceeded
	}
	return nil
}

// CancelByToken cancels the appointment the token was issued for, on
// behalf of the guest holding it.
func (m *Manager) CancelByToken(ctx context.Context, token string) (model.Appointment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Appointment{}, fmt.Errorf("%w: cancellation token is required", model.ErrInvalidInput)
	}
	appt, err := m.store.FindAppointmentByTokenHash(ctx, HashToken(token))
	if err != nil {
		return model.Appointment{}, err
	}
	cancelled := model.StatusCancelled
	return m.Update(ctx, UpdateInput{
		AppointmentID:   appt.ID,
		Status:          &cancelled,
		ExpectedVersion: appt.Version,
		ActorID:         GuestActor,
	})
}

// Get returns the appointment only if it belongs to businessID.
func (m *Manager) Get(ctx context.Context, businessID, id string) (model.Appointment, error) {
	appt, err := m.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if businessID != "" && appt.BusinessID != businessID {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

type ListFilter struct {
	BusinessID string
	From       time.Time
	To         time.Time
	Status     model.AppointmentStatus
	Limit      int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (m *Manager) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	if f.BusinessID == "" {
		return nil, fmt.Errorf("%w: business id is required", model.ErrInvalidInput)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return nil, fmt.Errorf("%w: range end must be after start", model.ErrInvalidInput)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return m.store.ListAppointments(ctx, f)
}

func (m *Manager) record(ctx context.Context, appt model.Appointment, action, eventType, actorID string, fromVersion int, changes map[string]audit.Change) error {
	diff, err := audit.Changes(changes)
	if err != nil {
		return err
	}
	if err := m.audit.Append(ctx, audit.Entry{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		ActorID:       actorID,
		Action:        action,
		Changes:       diff,
		FromVersion:   fromVersion,
		ToVersion:     appt.Version,
		CreatedAt:     appt.UpdatedAt,
	}); err != nil {
		return err
	}
	payload, err := json.Marshal(newEventPayload(appt, eventType))
	if err != nil {
		return err
	}
	return m.outbox.Enqueue(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

type eventPayload struct {
	EventType     string     `json:"event_type"`
	AppointmentID string     `json:"appointment_id"`
	BusinessID    string     `json:"business_id"`
	ServiceID     string     `json:"service_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        string     `json:"status"`
	Version       int        `json:"version"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func newEventPayload(a model.Appointment, eventType string) eventPayload {
	return eventPayload{
		EventType:     eventType,
		AppointmentID: a.ID,
		BusinessID:    a.BusinessID,
		ServiceID:     a.ServiceID,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        string(a.Status),
		Version:       a.Version,
		CustomerName:  a.CustomerName,
		CustomerEmail: a.CustomerEmail,
		CustomerPhone: a.CustomerPhone,
		CancelledAt:   a.CancelledAt,
		OccurredAt:    a.UpdatedAt,
	}
}

// NewCancellationToken returns an unguessable token for guest cancellation.
func NewCancellationToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// HashToken is what the store keeps instead of the raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
