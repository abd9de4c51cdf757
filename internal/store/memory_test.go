package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/rides"
)

func insertRide(t *testing.T, s *MemoryStore, ride models.Ride) uint {
	t.Helper()
	id, err := s.Insert(context.Background(), &ride)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	return id
}

func TestUpdateIfStatusGuard(t *testing.T) {
	s := NewMemoryStore()
	id := insertRide(t, s, models.Ride{PassengerID: 1, Status: rides.StatusRequested, OfferedPrice: 5000})

	accepted := rides.StatusAccepted
	driverID := uint(7)
	updated, err := s.UpdateIf(context.Background(), id, rides.StatusRequested, RideUpdate{
		Status:   &accepted,
		DriverID: &driverID,
	})
	if err != nil {
		t.Fatalf("first conditional update must succeed: %v", err)
	}
	if updated.Status != rides.StatusAccepted {
		t.Errorf("expected accepted, got %s", updated.Status)
	}

	// Same precondition again: the status moved, so this must conflict.
	if _, err := s.UpdateIf(context.Background(), id, rides.StatusRequested, RideUpdate{Status: &accepted}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on stale precondition, got %v", err)
	}

	if _, err := s.UpdateIf(context.Background(), 999, rides.StatusRequested, RideUpdate{Status: &accepted}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing ride, got %v", err)
	}
}

func TestUpdateIfAtMostOnceUnderConcurrency(t *testing.T) {
	s := NewMemoryStore()
	id := insertRide(t, s, models.Ride{PassengerID: 1, Status: rides.StatusRequested, OfferedPrice: 5000})

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accepted := rides.StatusAccepted
			driverID := uint(100 + i)
			_, results[i] = s.UpdateIf(context.Background(), id, rides.StatusRequested, RideUpdate{
				Status:   &accepted,
				DriverID: &driverID,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one update to win, got %d", succeeded)
	}
}

func TestUpdateIfPriceGuard(t *testing.T) {
	s := NewMemoryStore()
	id := insertRide(t, s, models.Ride{PassengerID: 1, Status: rides.StatusRequested, OfferedPrice: 5000})

	stale := 4500.0
	next := 5500.0
	if _, err := s.UpdateIf(context.Background(), id, rides.StatusRequested, RideUpdate{
		OfferedPrice:  &next,
		ExpectedPrice: &stale,
	}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on stale price, got %v", err)
	}

	current := 5000.0
	updated, err := s.UpdateIf(context.Background(), id, rides.StatusRequested, RideUpdate{
		OfferedPrice:  &next,
		ExpectedPrice: &current,
	})
	if err != nil {
		t.Fatalf("matching price guard must pass: %v", err)
	}
	if updated.OfferedPrice != 5500 {
		t.Errorf("expected 5500, got %.0f", updated.OfferedPrice)
	}
}

func TestFindFilters(t *testing.T) {
	s := NewMemoryStore()
	driverID := uint(7)

	insertRide(t, s, models.Ride{PassengerID: 1, Status: rides.StatusRequested})
	insertRide(t, s, models.Ride{PassengerID: 1, Status: rides.StatusCompleted})
	insertRide(t, s, models.Ride{PassengerID: 2, DriverID: &driverID, Status: rides.StatusAccepted})

	pid := uint(1)
	got, err := s.Find(context.Background(), RideQuery{PassengerID: &pid, Statuses: rides.ActiveStatuses()})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != rides.StatusRequested {
		t.Errorf("expected one active ride for passenger 1, got %v", got)
	}

	got, err = s.Find(context.Background(), RideQuery{DriverID: &driverID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PassengerID != 2 {
		t.Errorf("expected driver 7's ride, got %v", got)
	}
}

func TestFindNewestFirstAndLimit(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		ride := models.Ride{PassengerID: uint(i + 1), Status: rides.StatusRequested}
		ride.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		insertRide(t, s, ride)
	}

	got, err := s.Find(context.Background(), RideQuery{
		Statuses:    []string{rides.StatusRequested},
		NewestFirst: true,
		Limit:       3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rides, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("feed not newest-first at index %d", i)
		}
	}
}

func TestSubscribeDispatchAndCancel(t *testing.T) {
	s := NewMemoryStore()

	var mu sync.Mutex
	var seen []RideChange
	cancel, err := s.Subscribe(func(ch RideChange) bool {
		return ch.PassengerID == 1
	}, func(ch RideChange) {
		mu.Lock()
		seen = append(seen, ch)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	id := insertRide(t, s, models.Ride{PassengerID: 1, Status: rides.StatusRequested, OfferedPrice: 5000})
	insertRide(t, s, models.Ride{PassengerID: 2, Status: rides.StatusRequested})

	mu.Lock()
	if len(seen) != 1 || seen[0].RideID != id || seen[0].Status != rides.StatusRequested {
		t.Errorf("expected one change for passenger 1, got %v", seen)
	}
	mu.Unlock()

	cancel()

	canceled := rides.StatusCanceled
	if _, err := s.UpdateIf(context.Background(), id, rides.StatusRequested, RideUpdate{Status: &canceled}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	if len(seen) != 1 {
		t.Errorf("canceled subscription must not receive changes, got %d", len(seen))
	}
	mu.Unlock()
}
