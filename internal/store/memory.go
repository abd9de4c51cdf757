package store

import (
	"context"
	"sync"
	"time"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
)

// MemoryStore is an in-process RideStore with the same conditional-update
// semantics as the Postgres store. It backs local development without
// infrastructure and the concurrency tests of the matching protocol.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint
	rides  map[uint]*models.Ride
	subs   map[int]*memSub
	subSeq int
}

type memSub struct {
	pred     func(RideChange) bool
	onChange func(RideChange)
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		rides:  make(map[uint]*models.Ride),
		subs:   make(map[int]*memSub),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id uint) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Find(ctx context.Context, q RideQuery) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Ride
	for _, r := range s.rides {
		if q.PassengerID != nil && r.PassengerID != *q.PassengerID {
			continue
		}
		if q.DriverID != nil && (r.DriverID == nil || *r.DriverID != *q.DriverID) {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, r.Status) {
			continue
		}
		out = append(out, *r)
	}
	if q.NewestFirst {
		sortNewestFirst(out)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, ride *models.Ride) (uint, error) {
	s.mu.Lock()
	ride.ID = s.nextID
	s.nextID++
	if ride.CreatedAt.IsZero() {
		ride.CreatedAt = time.Now()
	}
	cp := *ride
	s.rides[ride.ID] = &cp
	ch := ChangeOf(ride)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	dispatch(subs, ch)
	return ride.ID, nil
}

func (s *MemoryStore) UpdateIf(ctx context.Context, id uint, expectedStatus string, upd RideUpdate) (*models.Ride, error) {
	s.mu.Lock()
	r, ok := s.rides[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if r.Status != expectedStatus {
		s.mu.Unlock()
		return nil, ErrConflict
	}
	if upd.ExpectedPrice != nil && r.OfferedPrice != *upd.ExpectedPrice {
		s.mu.Unlock()
		return nil, ErrConflict
	}

	if upd.Status != nil {
		r.Status = *upd.Status
	}
	if upd.DriverID != nil {
		v := *upd.DriverID
		r.DriverID = &v
	}
	if upd.OfferedPrice != nil {
		r.OfferedPrice = *upd.OfferedPrice
	}
	if upd.StartTime != nil {
		v := *upd.StartTime
		r.StartTime = &v
	}
	if upd.EndTime != nil {
		v := *upd.EndTime
		r.EndTime = &v
	}
	if upd.Comments != nil {
		r.Comments = *upd.Comments
	}

	cp := *r
	ch := ChangeOf(r)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	dispatch(subs, ch)
	return &cp, nil
}

func (s *MemoryStore) Subscribe(pred func(RideChange) bool, onChange func(RideChange)) (func(), error) {
	s.mu.Lock()
	id := s.subSeq
	s.subSeq++
	s.subs[id] = &memSub{pred: pred, onChange: onChange}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) snapshotSubs() []*memSub {
	out := make([]*memSub, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func dispatch(subs []*memSub, ch RideChange) {
	for _, sub := range subs {
		if sub.pred == nil || sub.pred(ch) {
			sub.onChange(ch)
		}
	}
}

func containsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func sortNewestFirst(rides []models.Ride) {
	for i := 1; i < len(rides); i++ {
		for j := i; j > 0 && rides[j].CreatedAt.After(rides[j-1].CreatedAt); j-- {
			rides[j], rides[j-1] = rides[j-1], rides[j]
		}
	}
}
