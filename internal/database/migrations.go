package database

import (
	"strconv"

	"github.com/ridelinkhq/ridelink-backend/internal/fare"
	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	// Create tables if they don't exist
	err := db.AutoMigrate(
		&models.User{},
		&models.DriverProfile{},
		&models.Vehicle{},
		&models.Ride{},
		&models.Rating{},
		&models.AppConfig{},
	)
	if err != nil {
		return err
	}

	// Update users table
	if db.Migrator().HasTable(&models.User{}) {
		db.Exec(`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_user_type_check`)
		db.Exec(`ALTER TABLE users ADD CONSTRAINT users_user_type_check CHECK (user_type IN ('passenger', 'driver'))`)
	}

	return seedPolicies(db)
}

// seedPolicies inserts the default negotiation and gate policies. Existing
// rows win so operators can retune without redeploying.
func seedPolicies(db *gorm.DB) error {
	defaults := map[string]string{
		models.ConfigFareIncrement:       strconv.Itoa(fare.DefaultIncrement),
		models.ConfigFareFloorEnforced:   "false",
		models.ConfigMinFareMale:         "0",
		models.ConfigMinFareFemale:       "0",
		models.ConfigBalanceCheckEnabled: "false",
	}

	for key, value := range defaults {
		row := models.AppConfig{Key: key, Value: value}
		if err := db.Where(models.AppConfig{Key: key}).FirstOrCreate(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
