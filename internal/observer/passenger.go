// Package observer keeps connected passenger and driver clients in sync
// with the record store and the broadcast fabric. Observers own their
// subscriptions: they are created when the scoping key (the connected user)
// appears, re-established when the watched ride changes, and torn down on
// disconnect. Leaving a listener behind is a bug, not a tuning choice.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/ridelinkhq/ridelink-backend/internal/match"
	"github.com/ridelinkhq/ridelink-backend/internal/rides"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
)

// PassengerObserver tracks one passenger's current ride: row-level change
// notifications plus the per-ride accept topic for claim announcements.
type PassengerObserver struct {
	Store       store.RideStore
	Fabric      services.Fabric
	Hub         *services.Hub
	PassengerID uint

	mu          sync.Mutex
	cancelFeed  func()
	acceptTopic services.Topic
	watchedRide uint
	stopped     bool
}

func NewPassengerObserver(st store.RideStore, fabric services.Fabric, hub *services.Hub, passengerID uint) *PassengerObserver {
	return &PassengerObserver{Store: st, Fabric: fabric, Hub: hub, PassengerID: passengerID}
}

// Start subscribes to the passenger's ride changes and, when a ride is
// already in flight, to its accept topic.
func (o *PassengerObserver) Start(ctx context.Context) error {
	id := o.PassengerID
	cancel, err := o.Store.Subscribe(func(ch store.RideChange) bool {
		return ch.PassengerID == id
	}, o.handleChange)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.cancelFeed = cancel
	o.mu.Unlock()

	current, err := o.Store.Find(ctx, store.RideQuery{
		PassengerID: &id,
		Statuses:    rides.ActiveStatuses(),
		Limit:       1,
	})
	if err != nil {
		return err
	}
	if len(current) == 1 {
		o.watchAcceptTopic(ctx, current[0].ID)
	}
	return nil
}

// Stop tears down every subscription this observer holds.
func (o *PassengerObserver) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	if o.cancelFeed != nil {
		o.cancelFeed()
		o.cancelFeed = nil
	}
	o.closeAcceptTopicLocked()
}

// handleChange translates a store notification into local view updates. On
// completion the passenger is forced into the rating step; everything else
// is an invalidate-and-refetch.
func (o *PassengerObserver) handleChange(ch store.RideChange) {
	switch ch.Status {
	case rides.StatusRequested:
		// A freshly created ride: the scoping key changed, re-subscribe.
		o.watchAcceptTopic(context.Background(), ch.RideID)
		o.Hub.SendRideInvalidate(o.PassengerID, services.RideInvalidate{RideID: ch.RideID, Status: ch.Status})
	case rides.StatusCompleted:
		driverID := uint(0)
		if ch.DriverID != nil {
			driverID = *ch.DriverID
		}
		o.Hub.SendRateDriver(o.PassengerID, services.RateDriver{RideID: ch.RideID, DriverID: driverID})
		o.unwatchAcceptTopic()
	case rides.StatusCanceled:
		o.Hub.SendRideInvalidate(o.PassengerID, services.RideInvalidate{RideID: ch.RideID, Status: ch.Status})
		o.unwatchAcceptTopic()
	default:
		o.Hub.SendRideInvalidate(o.PassengerID, services.RideInvalidate{RideID: ch.RideID, Status: ch.Status})
	}
}

// watchAcceptTopic subscribes to the per-ride claim topic. Claims are purely
// informative for the passenger UI; the store notification remains the
// authority.
func (o *PassengerObserver) watchAcceptTopic(ctx context.Context, rideID uint) {
	o.mu.Lock()
	if o.watchedRide == rideID && o.acceptTopic != nil {
		o.mu.Unlock()
		return
	}
	o.closeAcceptTopicLocked()
	o.mu.Unlock()

	topic, err := o.Fabric.OpenTopic(ctx, services.AcceptTopicName(rideID), nil)
	if err != nil {
		log.Printf("observer: failed to open accept topic for ride %d: %v", rideID, err)
		return
	}
	topic.Subscribe("claim", func(payload []byte) {
		var claim match.Claim
		if err := json.Unmarshal(payload, &claim); err != nil {
			log.Printf("observer: dropping malformed claim for ride %d: %v", rideID, err)
			return
		}
		o.Hub.Send(o.PassengerID, "ride_claimed", claim)
	})

	o.mu.Lock()
	if o.stopped || o.acceptTopic != nil {
		// Either the observer shut down while the topic was opening, or a
		// concurrent watch won; close ours instead of overwriting.
		o.mu.Unlock()
		topic.Close()
		return
	}
	o.acceptTopic = topic
	o.watchedRide = rideID
	o.mu.Unlock()
}

func (o *PassengerObserver) unwatchAcceptTopic() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeAcceptTopicLocked()
}

func (o *PassengerObserver) closeAcceptTopicLocked() {
	if o.acceptTopic != nil {
		o.acceptTopic.Close()
		o.acceptTopic = nil
		o.watchedRide = 0
	}
}
