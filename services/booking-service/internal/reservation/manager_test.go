package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type fakeStore struct {
	mu           sync.Mutex // held for the whole of WithTx, like the service row lock
	services     map[string]model.Service
	reservations map[string]model.Reservation
	appointments []model.Appointment
	inserts      int
}

func newFakeStore(services ...model.Service) *fakeStore {
	f := &fakeStore{services: map[string]model.Service{}, reservations: map[string]model.Reservation{}}
	for _, s := range services {
		f.services[s.ID] = s
	}
	return f
}

type txKey struct{}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make(map[string]model.Reservation, len(f.reservations))
	for k, v := range f.reservations {
		snapshot[k] = v
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		f.reservations = snapshot
		return err
	}
	return nil
}

func (f *fakeStore) GetServiceForUpdate(_ context.Context, businessID, serviceID string) (model.Service, error) {
	return f.GetService(context.Background(), businessID, serviceID)
}

func (f *fakeStore) GetService(_ context.Context, businessID, serviceID string) (model.Service, error) {
	s, ok := f.services[serviceID]
	if !ok || s.BusinessID != businessID {
		return model.Service{}, model.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error) {
	if ctx.Value(txKey{}) == nil {
		f.mu.Lock()
		defer f.mu.Unlock()
	}
	for _, r := range f.reservations {
		if r.IdempotencyKey == key {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertReservation(_ context.Context, r model.Reservation) error {
	for _, existing := range f.reservations {
		if existing.IdempotencyKey == r.IdempotencyKey {
			return model.ErrIdempotencyConflict
		}
	}
	f.reservations[r.ID] = r
	f.inserts++
	return nil
}

func (f *fakeStore) DeleteReservation(_ context.Context, id string) error {
	delete(f.reservations, id)
	return nil
}

func (f *fakeStore) DeleteExpiredReservations(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, r := range f.reservations {
		if r.Expired(now) {
			delete(f.reservations, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountOccupancy(_ context.Context, w ledger.Window, now time.Time) (int, int, error) {
	return f.countReservations(w, now), f.countAppointments(w), nil
}

func (f *fakeStore) countReservations(w ledger.Window, now time.Time) int {
	n := 0
	for _, r := range f.reservations {
		if r.ServiceID == w.ServiceID && !r.Expired(now) && ledger.Overlaps(r.SlotStart, r.SlotEnd, w.Start, w.End) {
			n++
		}
	}
	return n
}

func (f *fakeStore) countAppointments(w ledger.Window) int {
	n := 0
	for _, a := range f.appointments {
		if a.ServiceID == w.ServiceID && a.ID != w.ExcludeAppointmentID && a.Status.Occupies() &&
			ledger.Overlaps(a.StartTime, a.EndTime, w.Start, w.End) {
			n++
		}
	}
	return n
}

func TestManager_Create(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	slotStart := now.Add(24 * time.Hour)
	slotEnd := slotStart.Add(30 * time.Minute)
	svc := model.Service{ID: "svc-1", BusinessID: "biz-1", DurationMinutes: 30, MaxSimultaneousBookings: 2, Enabled: true}

	makeManager := func(store *fakeStore, clk clock.Clock) *Manager {
		return NewManager(store, ledger.New(store), clk)
	}
	input := func(key string) CreateInput {
		return CreateInput{BusinessID: "biz-1", ServiceID: "svc-1", SlotStart: slotStart, SlotEnd: slotEnd, IdempotencyKey: key}
	}

	t.Run("creates hold with default ttl", func(t *testing.T) {
		store := newFakeStore(svc)
		res, err := makeManager(store, clock.NewManual(now)).Create(context.Background(), input("k1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.ID == "" {
			t.Fatal("expected reservation ID to be set")
		}
		if !res.ExpiresAt.Equal(now.Add(DefaultTTL)) {
			t.Fatalf("expected expires_at %v, got %v", now.Add(DefaultTTL), res.ExpiresAt)
		}
	})

	t.Run("custom ttl", func(t *testing.T) {
		store := newFakeStore(svc)
		in := input("k1")
		in.TTLMinutes = 5
		res, err := makeManager(store, clock.NewManual(now)).Create(context.Background(), in)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !res.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
			t.Fatalf("unexpected expires_at %v", res.ExpiresAt)
		}
	})

	t.Run("replay returns the same hold", func(t *testing.T) {
		store := newFakeStore(svc)
		clk := clock.NewManual(now)
		m := makeManager(store, clk)
		first, err := m.Create(context.Background(), input("k1"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		clk.Advance(time.Minute)
		second, err := m.Create(context.Background(), input("k1"))
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if second.ID != first.ID || !second.ExpiresAt.Equal(first.ExpiresAt) {
			t.Fatalf("expected unchanged replay, got %+v vs %+v", second, first)
		}
		if store.inserts != 1 {
			t.Fatalf("expected 1 insert, got %d", store.inserts)
		}
	})

	t.Run("replay succeeds even when the slot is now full", func(t *testing.T) {
		store := newFakeStore(svc)
		m := makeManager(store, clock.NewManual(now))
		if _, err := m.Create(context.Background(), input("k1")); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := m.Create(context.Background(), input("k2")); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := m.Create(context.Background(), input("k1")); err != nil {
			t.Fatalf("expected replay to skip capacity check, got %v", err)
		}
	})

	t.Run("idempotency conflict on different parameters", func(t *testing.T) {
		store := newFakeStore(svc)
		m := makeManager(store, clock.NewManual(now))
		if _, err := m.Create(context.Background(), input("k1")); err != nil {
			t.Fatalf("create: %v", err)
		}
		in := input("k1")
		in.SlotStart = in.SlotStart.Add(time.Hour)
		in.SlotEnd = in.SlotEnd.Add(time.Hour)
		if _, err := m.Create(context.Background(), in); !errors.Is(err, model.ErrIdempotencyConflict) {
			t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
		}
	})

	t.Run("expired key is reused", func(t *testing.T) {
		store := newFakeStore(svc)
		clk := clock.NewManual(now)
		m := makeManager(store, clk)
		first, err := m.Create(context.Background(), input("k1"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		clk.Advance(DefaultTTL)
		second, err := m.Create(context.Background(), input("k1"))
		if err != nil {
			t.Fatalf("recreate: %v", err)
		}
		if second.ID == first.ID {
			t.Fatal("expected a fresh hold after expiry")
		}
		if len(store.reservations) != 1 {
			t.Fatalf("expected stale row replaced, got %d rows", len(store.reservations))
		}
	})

	t.Run("capacity exceeded", func(t *testing.T) {
		store := newFakeStore(svc)
		store.appointments = []model.Appointment{
			{ID: "a1", ServiceID: "svc-1", StartTime: slotStart, EndTime: slotEnd, Status: model.StatusConfirmed},
			{ID: "a2", ServiceID: "svc-1", StartTime: slotStart.Add(-15 * time.Minute), EndTime: slotStart.Add(15 * time.Minute), Status: model.StatusConfirmed},
		}
		_, err := makeManager(store, clock.NewManual(now)).Create(context.Background(), input("k1"))
		if !errors.Is(err, model.ErrCapacityExceeded) {
			t.Fatalf("expected ErrCapacityExceeded, got %v", err)
		}
		if len(store.reservations) != 0 {
			t.Fatal("expected no hold to be written")
		}
	})

	t.Run("cancelled appointments and expired holds free capacity", func(t *testing.T) {
		store := newFakeStore(svc)
		store.appointments = []model.Appointment{
			{ID: "a1", ServiceID: "svc-1", StartTime: slotStart, EndTime: slotEnd, Status: model.StatusCancelled},
		}
		store.reservations["old"] = model.Reservation{ID: "old", ServiceID: "svc-1", SlotStart: slotStart, SlotEnd: slotEnd, IdempotencyKey: "old", ExpiresAt: now}
		store.reservations["old2"] = model.Reservation{ID: "old2", ServiceID: "svc-1", SlotStart: slotStart, SlotEnd: slotEnd, IdempotencyKey: "old2", ExpiresAt: now.Add(-time.Minute)}
		if _, err := makeManager(store, clock.NewManual(now)).Create(context.Background(), input("k1")); err != nil {
			t.Fatalf("expected capacity to be free, got %v", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		m := makeManager(newFakeStore(svc), clock.NewManual(now))
		cases := map[string]func(*CreateInput){
			"missing key":   func(in *CreateInput) { in.IdempotencyKey = "" },
			"missing id":    func(in *CreateInput) { in.ServiceID = "" },
			"inverted slot": func(in *CreateInput) { in.SlotEnd = in.SlotStart },
			"past slot":     func(in *CreateInput) { in.SlotStart = now; in.SlotEnd = now.Add(time.Hour) },
			"ttl too long":  func(in *CreateInput) { in.TTLMinutes = 61 },
			"negative ttl":  func(in *CreateInput) { in.TTLMinutes = -1 },
		}
		for name, mutate := range cases {
			in := input("k1")
			mutate(&in)
			if _, err := m.Create(context.Background(), in); !errors.Is(err, model.ErrInvalidInput) {
				t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
			}
		}
	})

	t.Run("unknown or disabled service", func(t *testing.T) {
		disabled := svc
		disabled.ID = "svc-off"
		disabled.Enabled = false
		m := makeManager(newFakeStore(svc, disabled), clock.NewManual(now))

		in := input("k1")
		in.ServiceID = "missing"
		if _, err := m.Create(context.Background(), in); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		in.ServiceID = "svc-off"
		if _, err := m.Create(context.Background(), in); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for disabled service, got %v", err)
		}
	})
}

func TestManager_ConcurrentCreatesNeverOverbook(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	slotStart := now.Add(time.Hour)
	svc := model.Service{ID: "svc-1", BusinessID: "biz-1", DurationMinutes: 60, MaxSimultaneousBookings: 2, Enabled: true}
	store := newFakeStore(svc)
	m := NewManager(store, ledger.New(store), clock.NewManual(now))

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Create(context.Background(), CreateInput{
				BusinessID:     "biz-1",
				ServiceID:      "svc-1",
				SlotStart:      slotStart,
				SlotEnd:        slotStart.Add(time.Hour),
				IdempotencyKey: string(rune('a' + i)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrCapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 2 || full != callers-2 {
		t.Fatalf("expected 2 successes and %d rejections, got %d/%d", callers-2, ok, full)
	}
}

func TestManager_CleanupExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.reservations["live"] = model.Reservation{ID: "live", ExpiresAt: now.Add(time.Second)}
	store.reservations["edge"] = model.Reservation{ID: "edge", ExpiresAt: now}
	store.reservations["old"] = model.Reservation{ID: "old", ExpiresAt: now.Add(-time.Hour)}
	m := NewManager(store, ledger.New(store), clock.NewManual(now))

	n, err := m.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reaped, got %d", n)
	}
	if _, ok := store.reservations["live"]; !ok {
		t.Fatal("expected live hold to survive")
	}

	n, err = m.CleanupExpired(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent second sweep, got %d, %v", n, err)
	}
}
