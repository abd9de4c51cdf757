package services

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

const (
	driverActiveSet   = "drivers:active"
	driverBusySet     = "drivers:busy"
	driverPresenceSet = "drivers:presence"
)

// InitRedis initializes the Redis client
func InitRedis() error {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://redis:6379" // Default Redis address for Docker
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	_, err = RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return nil
}

// SetDriverActive records whether a driver has toggled themselves on shift.
func SetDriverActive(ctx context.Context, driverID uint, active bool) error {
	member := fmt.Sprint(driverID)
	if active {
		return RedisClient.SAdd(ctx, driverActiveSet, member).Err()
	}
	return RedisClient.SRem(ctx, driverActiveSet, member).Err()
}

// SetDriverBusy records whether a driver currently holds an active ride.
func SetDriverBusy(ctx context.Context, driverID uint, busy bool) error {
	member := fmt.Sprint(driverID)
	if busy {
		return RedisClient.SAdd(ctx, driverBusySet, member).Err()
	}
	return RedisClient.SRem(ctx, driverBusySet, member).Err()
}

// RegisterDriverPresence marks a driver as actively watching the request
// feed. Presence is dropped when the driver's observer shuts down.
func RegisterDriverPresence(ctx context.Context, driverID uint) error {
	return RedisClient.SAdd(ctx, driverPresenceSet, fmt.Sprint(driverID)).Err()
}

// UnregisterDriverPresence removes the presence registration.
func UnregisterDriverPresence(ctx context.Context, driverID uint) error {
	return RedisClient.SRem(ctx, driverPresenceSet, fmt.Sprint(driverID)).Err()
}

// AvailableDriverCount is the UX counter shown to passengers: drivers on
// shift minus drivers already busy with a ride. Never negative.
func AvailableDriverCount(ctx context.Context) (int64, error) {
	active, err := RedisClient.SCard(ctx, driverActiveSet).Result()
	if err != nil {
		return 0, err
	}
	busy, err := RedisClient.SCard(ctx, driverBusySet).Result()
	if err != nil {
		return 0, err
	}
	count := active - busy
	if count < 0 {
		count = 0
	}
	return count, nil
}
