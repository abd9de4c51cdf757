package observer

import (
	"context"
	"log"
	"sync"

	"github.com/ridelinkhq/ridelink-backend/internal/rides"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
)

// RequestedFeedLimit caps the driver's open-requests feed.
const RequestedFeedLimit = 20

// DriverObserver keeps a connected driver's view fresh: its own current
// ride, plus the capped open-requests feed, which is invalidated (never
// mutated) whenever a ride enters or leaves the requested pool. While
// running it also registers the driver's presence on the shared set.
type DriverObserver struct {
	Store    store.RideStore
	Hub      *services.Hub
	DriverID uint

	// Presence hooks default to the Redis presence set; tests inject stubs.
	RegisterPresence   func(ctx context.Context, driverID uint) error
	UnregisterPresence func(ctx context.Context, driverID uint) error

	mu         sync.Mutex
	cancelFeed func()
}

func NewDriverObserver(st store.RideStore, hub *services.Hub, driverID uint) *DriverObserver {
	return &DriverObserver{
		Store:              st,
		Hub:                hub,
		DriverID:           driverID,
		RegisterPresence:   services.RegisterDriverPresence,
		UnregisterPresence: services.UnregisterDriverPresence,
	}
}

// Start registers presence and subscribes to the changes that can stale the
// driver's feeds.
func (o *DriverObserver) Start(ctx context.Context) error {
	if o.RegisterPresence != nil {
		if err := o.RegisterPresence(ctx, o.DriverID); err != nil {
			log.Printf("observer: presence registration failed for driver %d: %v", o.DriverID, err)
		}
	}

	id := o.DriverID
	cancel, err := o.Store.Subscribe(func(ch store.RideChange) bool {
		if ch.DriverID != nil && *ch.DriverID == id {
			return true
		}
		switch ch.Status {
		case rides.StatusRequested, rides.StatusAccepted, rides.StatusCanceled:
			return true
		}
		return false
	}, o.handleChange)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.cancelFeed = cancel
	o.mu.Unlock()
	return nil
}

// Stop tears down the subscription and drops presence.
func (o *DriverObserver) Stop() {
	o.mu.Lock()
	if o.cancelFeed != nil {
		o.cancelFeed()
		o.cancelFeed = nil
	}
	o.mu.Unlock()

	if o.UnregisterPresence != nil {
		if err := o.UnregisterPresence(context.Background(), o.DriverID); err != nil {
			log.Printf("observer: presence removal failed for driver %d: %v", o.DriverID, err)
		}
	}
}

func (o *DriverObserver) handleChange(ch store.RideChange) {
	if ch.DriverID != nil && *ch.DriverID == o.DriverID {
		// Own ride moved; refetch the current-ride projection.
		o.Hub.SendRideInvalidate(o.DriverID, services.RideInvalidate{RideID: ch.RideID, Status: ch.Status})
		return
	}
	// Someone else's ride entered or left the requested pool; the feed is
	// stale. Any pending accept state for that ride reverts to idle once
	// the client refetches and sees it gone.
	o.Hub.SendRequestsInvalidate(o.DriverID, services.RequestsInvalidate{Reason: "ride " + ch.Status})
}
