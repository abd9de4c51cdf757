// Package policy reads the externally supplied key/value configuration the
// core consults: fare floors, the fare increment, and feature toggles. The
// core never writes these keys.
package policy

import (
	"context"
	"errors"
	"strconv"

	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"gorm.io/gorm"
)

// ErrKeyNotFound means the policy key has no row.
var ErrKeyNotFound = errors.New("policy key not found")

// Reader is the read-only configuration collaborator contract.
type Reader interface {
	Get(ctx context.Context, key string) (string, error)
}

// GormReader reads policy rows from the app_configs table.
type GormReader struct {
	db *gorm.DB
}

func NewGormReader(db *gorm.DB) *GormReader {
	return &GormReader{db: db}
}

func (r *GormReader) Get(ctx context.Context, key string) (string, error) {
	var cfg models.AppConfig
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return cfg.Value, nil
}

// GetFloat reads a numeric policy value, falling back to def when the key is
// missing or malformed.
func GetFloat(ctx context.Context, r Reader, key string, def float64) float64 {
	v, err := r.Get(ctx, key)
	if err != nil {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetBool reads a boolean policy flag, falling back to def when the key is
// missing.
func GetBool(ctx context.Context, r Reader, key string, def bool) bool {
	v, err := r.Get(ctx, key)
	if err != nil {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// MapReader is a fixed in-memory Reader.
type MapReader map[string]string

func (m MapReader) Get(ctx context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}
