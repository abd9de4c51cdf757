// Package match runs the driver-side accept protocol: an optimistic claim
// broadcast over the fabric followed by the authoritative status-guarded
// conditional write against the record store. The broadcast exists for
// latency only; at-most-one-winner comes from the conditional write and
// nothing else. No step is ever retried automatically.
package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/rides"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
)

var (
	// ErrDriverNotAvailable is the distinguished second-mover outcome:
	// either this driver already holds an accepted ride, or another driver
	// won the conditional write first.
	ErrDriverNotAvailable = errors.New("driver not available")
	// ErrCouldNotSubmit means the claim publish was rejected by the fabric.
	// Hard failure for this attempt; a new attempt needs a new user action.
	ErrCouldNotSubmit = errors.New("could not submit request")
)

// DefaultInFlightWindow bounds how long a driver's local pending-accept
// state survives without confirmation.
const DefaultInFlightWindow = 10 * time.Second

// AcceptRequest carries one driver's accept attempt. CounterOffer, when
// present, replaces the passenger's posted price if the attempt wins.
type AcceptRequest struct {
	RideID       uint
	DriverID     uint
	DriverName   string
	Vehicle      string
	CounterOffer *float64
}

// Claim is the proposed final ride projection broadcast on the per-ride
// accept topic. It is informative for observers; it grants nothing.
type Claim struct {
	RideID     uint    `json:"rideId"`
	DriverID   uint    `json:"driverId"`
	DriverName string  `json:"driverName"`
	Vehicle    string  `json:"vehicle"`
	Price      float64 `json:"price"`
}

type inflightAccept struct {
	rideID uint
	timer  *time.Timer
}

// Coordinator resolves concurrent accept attempts without shared locks
// between driver processes.
type Coordinator struct {
	Store  store.RideStore
	Fabric services.Fabric
	// InFlightWindow defaults to DefaultInFlightWindow when zero.
	InFlightWindow time.Duration
	// OnIdle fires when an in-flight accept expires without confirmation.
	// It reverts UX state only; it never touches the ride.
	OnIdle func(driverID, rideID uint)

	mu       sync.Mutex
	inflight map[uint]*inflightAccept
}

func NewCoordinator(st store.RideStore, fabric services.Fabric) *Coordinator {
	return &Coordinator{
		Store:          st,
		Fabric:         fabric,
		InFlightWindow: DefaultInFlightWindow,
		inflight:       make(map[uint]*inflightAccept),
	}
}

// Accept runs the full protocol for one attempt. Exactly one of any set of
// concurrent calls for the same ride returns nil error; the rest return
// ErrDriverNotAvailable (or the wrapped store conflict).
func (c *Coordinator) Accept(ctx context.Context, req AcceptRequest) (*models.Ride, error) {
	ride, err := c.Store.Get(ctx, req.RideID)
	if err != nil {
		return nil, err
	}

	// Guard-table check on the (possibly stale) read. The conditional write
	// below re-checks authoritatively.
	if _, err := rides.Validate(ride.Status, rides.StatusAccepted, rides.ActorDriver, time.Now()); err != nil {
		return nil, err
	}

	price := ride.OfferedPrice
	if req.CounterOffer != nil {
		// Driver's explicit price wins over the passenger's posted price.
		price = *req.CounterOffer
	}

	c.markInFlight(req.DriverID, req.RideID)

	if err := c.broadcastClaim(ctx, req, price); err != nil {
		c.clearInFlight(req.DriverID)
		return nil, err
	}

	// Conflict detector: a driver already bound to an active ride must not
	// be matched again, regardless of what the claim broadcast said.
	busy, err := c.Store.Find(ctx, store.RideQuery{
		DriverID: &req.DriverID,
		Statuses: rides.ActiveStatuses(),
	})
	if err != nil {
		c.clearInFlight(req.DriverID)
		return nil, err
	}
	if len(busy) > 0 {
		c.clearInFlight(req.DriverID)
		return nil, fmt.Errorf("%w: driver already holds an active ride", ErrDriverNotAvailable)
	}

	// The correctness boundary: one status-guarded update. Everything above
	// this line is advisory. The price is only written when the driver made
	// an explicit counter-offer; otherwise the posted price stands as is, so
	// a raise committed after our read survives the accept.
	status := rides.StatusAccepted
	upd := store.RideUpdate{
		Status:   &status,
		DriverID: &req.DriverID,
	}
	if req.CounterOffer != nil {
		upd.OfferedPrice = &price
	}
	updated, err := c.Store.UpdateIf(ctx, req.RideID, rides.StatusRequested, upd)
	if errors.Is(err, store.ErrConflict) {
		c.clearInFlight(req.DriverID)
		return nil, fmt.Errorf("%w: %v", ErrDriverNotAvailable, err)
	}
	if err != nil {
		c.clearInFlight(req.DriverID)
		log.Printf("match: accept write failed for ride %d driver %d: %v", req.RideID, req.DriverID, err)
		return nil, err
	}

	c.Confirm(req.DriverID)
	return updated, nil
}

// broadcastClaim opens the per-ride topic, waits for the transport to report
// a live subscribed state, then publishes the claim once. A failed publish
// is surfaced immediately and never retried.
func (c *Coordinator) broadcastClaim(ctx context.Context, req AcceptRequest, price float64) error {
	live := make(chan struct{})
	topic, err := c.Fabric.OpenTopic(ctx, services.AcceptTopicName(req.RideID), func() {
		close(live)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCouldNotSubmit, err)
	}
	defer topic.Close()

	select {
	case <-live:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCouldNotSubmit, ctx.Err())
	}

	claim := Claim{
		RideID:     req.RideID,
		DriverID:   req.DriverID,
		DriverName: req.DriverName,
		Vehicle:    req.Vehicle,
		Price:      price,
	}
	if err := topic.Publish(ctx, "claim", claim); err != nil {
		return fmt.Errorf("%w: %v", ErrCouldNotSubmit, err)
	}
	return nil
}

// markInFlight records the driver's pending accept and arms the expiry
// timer. If no confirmation clears it within the window, OnIdle fires so
// the driver is not stuck believing a request is still pending.
func (c *Coordinator) markInFlight(driverID, rideID uint) {
	window := c.InFlightWindow
	if window <= 0 {
		window = DefaultInFlightWindow
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.inflight[driverID]; ok {
		prev.timer.Stop()
	}

	entry := &inflightAccept{rideID: rideID}
	entry.timer = time.AfterFunc(window, func() {
		c.mu.Lock()
		cur, ok := c.inflight[driverID]
		if ok && cur == entry {
			delete(c.inflight, driverID)
		}
		c.mu.Unlock()
		if ok && cur == entry && c.OnIdle != nil {
			c.OnIdle(driverID, rideID)
		}
	})
	c.inflight[driverID] = entry
}

// Confirm clears the in-flight state after a confirmed outcome.
func (c *Coordinator) Confirm(driverID uint) {
	c.clearInFlight(driverID)
}

func (c *Coordinator) clearInFlight(driverID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.inflight[driverID]; ok {
		entry.timer.Stop()
		delete(c.inflight, driverID)
	}
}

// InFlight reports whether the driver has a pending accept and for which ride.
func (c *Coordinator) InFlight(driverID uint) (uint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inflight[driverID]
	if !ok {
		return 0, false
	}
	return entry.rideID, true
}
