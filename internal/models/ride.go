package models

import (
	"time"

	"gorm.io/gorm"
)

// Ride is the central entity of the coordination layer. Rows are never
// deleted; completed and canceled rides are retained for rating and auditing.
type Ride struct {
	gorm.Model
	PassengerID    uint    `json:"passengerId" gorm:"not null;index"`
	DriverID       *uint   `json:"driverId,omitempty" gorm:"index"`
	PickupLocation string  `json:"pickupLocation" gorm:"not null"`
	Destination    string  `json:"destination" gorm:"not null"`
	Gender         string  `json:"gender"`
	PaymentMethod  string  `json:"paymentMethod"`
	Status         string  `json:"status" gorm:"not null;default:'requested';index"`
	OfferedPrice   float64 `json:"offeredPrice" gorm:"not null"`
	// OriginalPrice is the price posted at creation. Fare raises may never
	// go below it.
	OriginalPrice float64    `json:"originalPrice" gorm:"not null"`
	Comments      string     `json:"comments,omitempty"`
	AffiliateID   *uint      `json:"affiliateId,omitempty"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Passenger     *User      `json:"passenger,omitempty" gorm:"foreignKey:PassengerID"`
	Driver        *User      `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// PassengerSummary is the read-only passenger projection joined onto a ride.
type PassengerSummary struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
	Gender    string `json:"gender"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// DriverSummary is the read-only driver projection joined onto a ride.
type DriverSummary struct {
	ID        uint    `json:"id"`
	Username  string  `json:"username"`
	Phone     string  `json:"phone"`
	Gender    string  `json:"gender"`
	AvatarURL string  `json:"avatarUrl,omitempty"`
	Rating    float64 `json:"rating"`
	Vehicle   string  `json:"vehicle,omitempty"`
}
