// Package store defines the ride record store contract: point reads,
// predicate finds, inserts, status-guarded conditional updates, and change
// notification subscriptions. The conditional update is the single source of
// exclusivity in the whole system; everything above it is advisory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
)

var (
	// ErrNotFound means the ride id does not exist.
	ErrNotFound = errors.New("ride not found")
	// ErrConflict means the conditional update's precondition no longer
	// held: someone else moved first. Expected and non-fatal.
	ErrConflict = errors.New("ride update conflict")
)

// RideQuery is the predicate shape Find supports.
type RideQuery struct {
	PassengerID *uint
	DriverID    *uint
	Statuses    []string
	Limit       int
	NewestFirst bool
}

// RideUpdate lists the fields a conditional update may set. Nil fields are
// left untouched. ExpectedPrice, when set, adds a compare-and-set guard on
// offered_price so concurrent fare raises cannot clobber each other.
type RideUpdate struct {
	Status        *string
	DriverID      *uint
	OfferedPrice  *float64
	StartTime     *time.Time
	EndTime       *time.Time
	Comments      *string
	ExpectedPrice *float64
}

// RideChange is the post-commit change notification fanned out to
// subscribers. Receivers must treat it as potentially stale and re-read.
type RideChange struct {
	RideID       uint      `json:"rideId"`
	PassengerID  uint      `json:"passengerId"`
	DriverID     *uint     `json:"driverId,omitempty"`
	Status       string    `json:"status"`
	OfferedPrice float64   `json:"offeredPrice"`
	At           time.Time `json:"at"`
}

// RideStore is the durable store collaborator contract.
type RideStore interface {
	Get(ctx context.Context, id uint) (*models.Ride, error)
	Find(ctx context.Context, q RideQuery) ([]models.Ride, error)
	Insert(ctx context.Context, ride *models.Ride) (uint, error)
	// UpdateIf applies upd to the ride iff its status equals expectedStatus
	// (and any extra guards in upd hold). At most one concurrent caller can
	// win; the rest get ErrConflict.
	UpdateIf(ctx context.Context, id uint, expectedStatus string, upd RideUpdate) (*models.Ride, error)
	// Subscribe registers onChange for every committed change matching
	// pred. The returned cancel must be called when the subscriber goes
	// away; leaked listeners are a bug.
	Subscribe(pred func(RideChange) bool, onChange func(RideChange)) (cancel func(), err error)
}

// ChangeOf builds the notification for a ride's current committed state.
func ChangeOf(r *models.Ride) RideChange {
	return RideChange{
		RideID:       r.ID,
		PassengerID:  r.PassengerID,
		DriverID:     r.DriverID,
		Status:       r.Status,
		OfferedPrice: r.OfferedPrice,
		At:           time.Now(),
	}
}
