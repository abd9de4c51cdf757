package match

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/rides"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
)

// fakeFabric records published claims and can be told to fail publishes.
type fakeFabric struct {
	mu         sync.Mutex
	publishErr error
	openErr    error
	published  [][]byte
}

func (f *fakeFabric) OpenTopic(ctx context.Context, name string, onSubscribed func()) (services.Topic, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	if onSubscribed != nil {
		onSubscribed()
	}
	return &fakeTopic{fabric: f}, nil
}

type fakeTopic struct {
	fabric *fakeFabric
}

func (t *fakeTopic) Publish(ctx context.Context, event string, payload interface{}) error {
	t.fabric.mu.Lock()
	defer t.fabric.mu.Unlock()
	if t.fabric.publishErr != nil {
		return t.fabric.publishErr
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.fabric.published = append(t.fabric.published, raw)
	return nil
}

func (t *fakeTopic) Subscribe(event string, handler func(payload []byte)) func() {
	return func() {}
}

func (t *fakeTopic) Close() error { return nil }

func (f *fakeFabric) claims(t *testing.T) []Claim {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Claim, 0, len(f.published))
	for _, raw := range f.published {
		var c Claim
		if err := json.Unmarshal(raw, &c); err != nil {
			t.Fatalf("malformed claim on fabric: %v", err)
		}
		out = append(out, c)
	}
	return out
}

func seedRequestedRide(t *testing.T, st *store.MemoryStore, price float64) uint {
	t.Helper()
	id, err := st.Insert(context.Background(), &models.Ride{
		PassengerID:   1,
		Status:        rides.StatusRequested,
		OfferedPrice:  price,
		OriginalPrice: price,
	})
	if err != nil {
		t.Fatalf("failed to seed ride: %v", err)
	}
	return id
}

func TestAcceptHappyPath(t *testing.T) {
	st := store.NewMemoryStore()
	fabric := &fakeFabric{}
	coord := NewCoordinator(st, fabric)
	id := seedRequestedRide(t, st, 5000)

	updated, err := coord.Accept(context.Background(), AcceptRequest{
		RideID:     id,
		DriverID:   7,
		DriverName: "Brian",
		Vehicle:    "Toyota White - UBF 123X",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != rides.StatusAccepted {
		t.Errorf("expected accepted, got %s", updated.Status)
	}
	if updated.DriverID == nil || *updated.DriverID != 7 {
		t.Errorf("expected driver 7 bound, got %v", updated.DriverID)
	}
	if updated.OfferedPrice != 5000 {
		t.Errorf("posted price must stand without a counter-offer, got %.0f", updated.OfferedPrice)
	}

	claims := fabric.claims(t)
	if len(claims) != 1 {
		t.Fatalf("expected exactly one claim broadcast, got %d", len(claims))
	}
	if claims[0].DriverID != 7 || claims[0].RideID != id || claims[0].Price != 5000 {
		t.Errorf("claim does not match the attempt: %+v", claims[0])
	}

	if _, pending := coord.InFlight(7); pending {
		t.Error("in-flight state must clear after a confirmed accept")
	}
}

func TestAcceptCounterOfferWins(t *testing.T) {
	st := store.NewMemoryStore()
	coord := NewCoordinator(st, &fakeFabric{})
	id := seedRequestedRide(t, st, 5000)

	counter := 6500.0
	updated, err := coord.Accept(context.Background(), AcceptRequest{
		RideID:       id,
		DriverID:     7,
		CounterOffer: &counter,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.OfferedPrice != 6500 {
		t.Errorf("counter-offer must replace the posted price, got %.0f", updated.OfferedPrice)
	}
}

func TestConcurrentAcceptsHaveOneWinner(t *testing.T) {
	st := store.NewMemoryStore()
	coord := NewCoordinator(st, &fakeFabric{})
	id := seedRequestedRide(t, st, 5000)

	const drivers = 8
	var wg sync.WaitGroup
	errs := make([]error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Accept(context.Background(), AcceptRequest{
				RideID:   id,
				DriverID: uint(100 + i),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrDriverNotAvailable):
			// Lost the conditional write.
		case errors.Is(err, rides.ErrInvalidTransition):
			// Read the ride after the winner committed.
		default:
			t.Errorf("driver %d: unexpected error %v", 100+i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	final, err := st.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != rides.StatusAccepted || final.DriverID == nil {
		t.Errorf("ride must end accepted with a bound driver, got %s %v", final.Status, final.DriverID)
	}
}

func TestAcceptAfterCancelFails(t *testing.T) {
	st := store.NewMemoryStore()
	coord := NewCoordinator(st, &fakeFabric{})
	id := seedRequestedRide(t, st, 5000)

	canceled := rides.StatusCanceled
	if _, err := st.UpdateIf(context.Background(), id, rides.StatusRequested, store.RideUpdate{Status: &canceled}); err != nil {
		t.Fatal(err)
	}

	_, err := coord.Accept(context.Background(), AcceptRequest{RideID: id, DriverID: 7})
	if !errors.Is(err, rides.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for a canceled ride, got %v", err)
	}
}

// staleStore serves one stale requested read, modelling a cancel that lands
// between the driver's read and the conditional write.
type staleStore struct {
	*store.MemoryStore
	stale *models.Ride
	once  sync.Once
}

func (s *staleStore) Get(ctx context.Context, id uint) (*models.Ride, error) {
	var hit bool
	s.once.Do(func() { hit = true })
	if hit {
		cp := *s.stale
		return &cp, nil
	}
	return s.MemoryStore.Get(ctx, id)
}

func TestAcceptLosesRaceWithCancel(t *testing.T) {
	mem := store.NewMemoryStore()
	id := seedRequestedRide(t, mem, 5000)

	stale, err := mem.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}

	// Cancel commits before the accept's write but after its read.
	canceled := rides.StatusCanceled
	if _, err := mem.UpdateIf(context.Background(), id, rides.StatusRequested, store.RideUpdate{Status: &canceled}); err != nil {
		t.Fatal(err)
	}

	coord := NewCoordinator(&staleStore{MemoryStore: mem, stale: stale}, &fakeFabric{})
	_, err = coord.Accept(context.Background(), AcceptRequest{RideID: id, DriverID: 7})
	if !errors.Is(err, ErrDriverNotAvailable) {
		t.Errorf("expected ErrDriverNotAvailable from the conditional write, got %v", err)
	}

	final, _ := mem.Get(context.Background(), id)
	if final.Status != rides.StatusCanceled || final.DriverID != nil {
		t.Errorf("canceled ride must stay canceled and unbound, got %s %v", final.Status, final.DriverID)
	}
}

func TestAcceptPublishFailure(t *testing.T) {
	st := store.NewMemoryStore()
	fabric := &fakeFabric{publishErr: errors.New("broker unreachable")}
	coord := NewCoordinator(st, fabric)
	id := seedRequestedRide(t, st, 5000)

	_, err := coord.Accept(context.Background(), AcceptRequest{RideID: id, DriverID: 7})
	if !errors.Is(err, ErrCouldNotSubmit) {
		t.Fatalf("expected ErrCouldNotSubmit, got %v", err)
	}

	// Nothing was written and nothing is pending.
	final, _ := st.Get(context.Background(), id)
	if final.Status != rides.StatusRequested {
		t.Errorf("failed submit must leave the ride requested, got %s", final.Status)
	}
	if _, pending := coord.InFlight(7); pending {
		t.Error("in-flight state must clear after a failed submit")
	}
}

func TestAcceptBusyDriverPreCheck(t *testing.T) {
	// A driver bound to any active ride, not just an accepted one, must be
	// rejected before the conditional write.
	for _, busyStatus := range []string{rides.StatusAccepted, rides.StatusWaiting, rides.StatusInProgress} {
		t.Run(busyStatus, func(t *testing.T) {
			st := store.NewMemoryStore()
			coord := NewCoordinator(st, &fakeFabric{})

			driverID := uint(7)
			if _, err := st.Insert(context.Background(), &models.Ride{
				PassengerID:  2,
				DriverID:     &driverID,
				Status:       busyStatus,
				OfferedPrice: 4000,
			}); err != nil {
				t.Fatal(err)
			}

			id := seedRequestedRide(t, st, 5000)
			_, err := coord.Accept(context.Background(), AcceptRequest{RideID: id, DriverID: 7})
			if !errors.Is(err, ErrDriverNotAvailable) {
				t.Errorf("expected ErrDriverNotAvailable for a busy driver, got %v", err)
			}

			final, _ := st.Get(context.Background(), id)
			if final.Status != rides.StatusRequested || final.DriverID != nil {
				t.Errorf("pre-check rejection must not touch the ride, got %s %v", final.Status, final.DriverID)
			}
		})
	}

	// A finished ride does not make the driver busy.
	st := store.NewMemoryStore()
	coord := NewCoordinator(st, &fakeFabric{})
	driverID := uint(7)
	if _, err := st.Insert(context.Background(), &models.Ride{
		PassengerID:  2,
		DriverID:     &driverID,
		Status:       rides.StatusCompleted,
		OfferedPrice: 4000,
	}); err != nil {
		t.Fatal(err)
	}
	id := seedRequestedRide(t, st, 5000)
	if _, err := coord.Accept(context.Background(), AcceptRequest{RideID: id, DriverID: 7}); err != nil {
		t.Errorf("a completed ride must not block a new accept, got %v", err)
	}
}

func TestAcceptWithoutCounterOfferKeepsRaisedPrice(t *testing.T) {
	mem := store.NewMemoryStore()
	id := seedRequestedRide(t, mem, 3000)

	stale, err := mem.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}

	// A raise commits after the driver's read but before the accept write.
	raised := 4000.0
	current := 3000.0
	if _, err := mem.UpdateIf(context.Background(), id, rides.StatusRequested, store.RideUpdate{
		OfferedPrice:  &raised,
		ExpectedPrice: &current,
	}); err != nil {
		t.Fatal(err)
	}

	coord := NewCoordinator(&staleStore{MemoryStore: mem, stale: stale}, &fakeFabric{})
	updated, err := coord.Accept(context.Background(), AcceptRequest{RideID: id, DriverID: 7})
	if err != nil {
		t.Fatalf("accept against the still-requested ride must win: %v", err)
	}
	if updated.OfferedPrice != 4000 {
		t.Errorf("accept without a counter-offer must leave the raised price: want 4000, got %.0f", updated.OfferedPrice)
	}
	if updated.Status != rides.StatusAccepted || updated.DriverID == nil || *updated.DriverID != 7 {
		t.Errorf("accept must still bind the driver, got %s %v", updated.Status, updated.DriverID)
	}
}

func TestInFlightWindowExpires(t *testing.T) {
	coord := NewCoordinator(store.NewMemoryStore(), &fakeFabric{})
	coord.InFlightWindow = 20 * time.Millisecond

	idle := make(chan [2]uint, 1)
	coord.OnIdle = func(driverID, rideID uint) {
		idle <- [2]uint{driverID, rideID}
	}

	coord.markInFlight(7, 42)
	if rideID, pending := coord.InFlight(7); !pending || rideID != 42 {
		t.Fatalf("expected pending accept for ride 42, got %d %v", rideID, pending)
	}

	select {
	case got := <-idle:
		if got[0] != 7 || got[1] != 42 {
			t.Errorf("expected idle for driver 7 ride 42, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("idle callback never fired")
	}

	if _, pending := coord.InFlight(7); pending {
		t.Error("expired entry must be removed")
	}
}

func TestConfirmStopsIdleTimer(t *testing.T) {
	coord := NewCoordinator(store.NewMemoryStore(), &fakeFabric{})
	coord.InFlightWindow = 20 * time.Millisecond

	fired := make(chan struct{}, 1)
	coord.OnIdle = func(driverID, rideID uint) { fired <- struct{}{} }

	coord.markInFlight(7, 42)
	coord.Confirm(7)

	select {
	case <-fired:
		t.Error("confirmed accept must not go idle")
	case <-time.After(80 * time.Millisecond):
	}
}
