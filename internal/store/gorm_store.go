package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"gorm.io/gorm"
)

// GormStore is the Postgres-backed ride store. Change notifications are
// re-published on the broadcast fabric after commit, so subscribers in any
// process see them.
type GormStore struct {
	db     *gorm.DB
	fabric services.Fabric
	topic  services.Topic
}

// NewGormStore opens the ride-changes topic eagerly so the first write does
// not race its own notification setup.
func NewGormStore(ctx context.Context, db *gorm.DB, fabric services.Fabric) (*GormStore, error) {
	topic, err := fabric.OpenTopic(ctx, services.RideChangesTopic, nil)
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, fabric: fabric, topic: topic}, nil
}

func (s *GormStore) Get(ctx context.Context, id uint) (*models.Ride, error) {
	var ride models.Ride
	err := s.db.WithContext(ctx).Preload("Passenger").Preload("Driver").First(&ride, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func (s *GormStore) Find(ctx context.Context, q RideQuery) ([]models.Ride, error) {
	tx := s.db.WithContext(ctx).Model(&models.Ride{}).Preload("Passenger").Preload("Driver")
	if q.PassengerID != nil {
		tx = tx.Where("passenger_id = ?", *q.PassengerID)
	}
	if q.DriverID != nil {
		tx = tx.Where("driver_id = ?", *q.DriverID)
	}
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN (?)", q.Statuses)
	}
	if q.NewestFirst {
		tx = tx.Order("created_at DESC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rides []models.Ride
	if err := tx.Find(&rides).Error; err != nil {
		return nil, err
	}
	return rides, nil
}

func (s *GormStore) Insert(ctx context.Context, ride *models.Ride) (uint, error) {
	if err := s.db.WithContext(ctx).Create(ride).Error; err != nil {
		return 0, err
	}
	s.notify(ctx, ChangeOf(ride))
	return ride.ID, nil
}

// UpdateIf is the correctness boundary: a single status-guarded UPDATE.
// RowsAffected zero means the precondition no longer held, which is a
// conflict when the row exists and not-found when it doesn't.
func (s *GormStore) UpdateIf(ctx context.Context, id uint, expectedStatus string, upd RideUpdate) (*models.Ride, error) {
	fields := map[string]interface{}{}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if upd.DriverID != nil {
		fields["driver_id"] = *upd.DriverID
	}
	if upd.OfferedPrice != nil {
		fields["offered_price"] = *upd.OfferedPrice
	}
	if upd.StartTime != nil {
		fields["start_time"] = *upd.StartTime
	}
	if upd.EndTime != nil {
		fields["end_time"] = *upd.EndTime
	}
	if upd.Comments != nil {
		fields["comments"] = *upd.Comments
	}

	tx := s.db.WithContext(ctx).Model(&models.Ride{}).
		Where("id = ? AND status = ?", id, expectedStatus)
	if upd.ExpectedPrice != nil {
		tx = tx.Where("offered_price = ?", *upd.ExpectedPrice)
	}

	res := tx.Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&models.Ride{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}

	ride, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, ChangeOf(ride))
	return ride, nil
}

func (s *GormStore) Subscribe(pred func(RideChange) bool, onChange func(RideChange)) (func(), error) {
	unsub := s.topic.Subscribe("changed", func(payload []byte) {
		var ch RideChange
		if err := json.Unmarshal(payload, &ch); err != nil {
			log.Printf("store: dropping malformed ride change: %v", err)
			return
		}
		if pred == nil || pred(ch) {
			onChange(ch)
		}
	})
	return unsub, nil
}

func (s *GormStore) notify(ctx context.Context, ch RideChange) {
	if err := s.topic.Publish(ctx, "changed", ch); err != nil {
		// Notification loss is tolerated: readers re-derive state from
		// authoritative reads, never from the feed alone.
		log.Printf("store: failed to publish ride change for %d: %v", ch.RideID, err)
	}
}
