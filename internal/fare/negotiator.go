// Package fare implements the offer/counter-offer sequence that runs while a
// ride is still requested. Raises are persisted with a compare-and-set on
// the current price, so the posted fare is monotonically non-decreasing and
// never below the original offer.
package fare

import (
	"context"
	"errors"
	"fmt"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/policy"
	"github.com/ridelinkhq/ridelink-backend/internal/rides"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
)

// ErrValidation marks malformed or out-of-policy input caught before any
// write is attempted.
var ErrValidation = errors.New("fare validation failed")

// ErrNotNegotiable means the ride has left the requested state and the fare
// is locked (or about to be replaced by the winning driver's counter-offer).
var ErrNotNegotiable = errors.New("fare can only be raised while the ride is requested")

// DefaultIncrement is used when the policy store carries no fare_increment.
const DefaultIncrement = 500

type Negotiator struct {
	Store  store.RideStore
	Policy policy.Reader
}

// Increment returns the fixed raise step from policy.
func (n *Negotiator) Increment(ctx context.Context) float64 {
	return policy.GetFloat(ctx, n.Policy, models.ConfigFareIncrement, DefaultIncrement)
}

// Floor returns the advisory minimum fare for a rider gender category.
func (n *Negotiator) Floor(ctx context.Context, gender string) float64 {
	key := models.ConfigMinFareMale
	if gender == "female" {
		key = models.ConfigMinFareFemale
	}
	return policy.GetFloat(ctx, n.Policy, key, 0)
}

// ValidateOffer checks a submitted price before any network call. The fare
// floor is advisory by default and only rejects when the
// fare_floor_enforced policy flag is on.
func (n *Negotiator) ValidateOffer(ctx context.Context, gender string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price must be a positive number", ErrValidation)
	}
	floor := n.Floor(ctx, gender)
	if floor > 0 && price < floor && policy.GetBool(ctx, n.Policy, models.ConfigFareFloorEnforced, false) {
		return fmt.Errorf("%w: offer %.0f is below the minimum fare %.0f", ErrValidation, price, floor)
	}
	return nil
}

// Raise bumps the posted fare by steps fixed increments. The write is a
// conditional update guarded by status=requested and the price the caller
// just read, so a concurrent raise or accept surfaces as store.ErrConflict
// instead of being clobbered.
func (n *Negotiator) Raise(ctx context.Context, rideID uint, steps int) (*models.Ride, error) {
	if steps < 1 {
		return nil, fmt.Errorf("%w: raise steps must be at least 1", ErrValidation)
	}

	ride, err := n.Store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != rides.StatusRequested {
		return nil, ErrNotNegotiable
	}

	current := ride.OfferedPrice
	newPrice := current + float64(steps)*n.Increment(ctx)

	updated, err := n.Store.UpdateIf(ctx, rideID, rides.StatusRequested, store.RideUpdate{
		OfferedPrice:  &newPrice,
		ExpectedPrice: &current,
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
