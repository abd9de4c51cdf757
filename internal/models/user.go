package models

import (
	"gorm.io/gorm"
)

type UserType string

const (
	UserTypePassenger UserType = "passenger"
	UserTypeDriver    UserType = "driver"
)

// User holds the profile projection the core reads. Account creation,
// credentials and sessions live in the identity service; this table is a
// read-mostly mirror of what the coordination layer needs for summaries.
type User struct {
	gorm.Model
	Username    string `json:"username" gorm:"column:username;unique;not null"`
	PhoneNumber string `json:"phoneNumber" gorm:"column:phone_number"`
	Gender      string `json:"gender" gorm:"column:gender"`
	AvatarURL   string `json:"avatarUrl" gorm:"column:avatar_url"`
	UserType    string `json:"userType" gorm:"column:user_type;not null"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// Summary builds the passenger-facing projection of a user.
func (u *User) Summary() PassengerSummary {
	return PassengerSummary{
		ID:        u.ID,
		Username:  u.Username,
		Phone:     u.PhoneNumber,
		Gender:    u.Gender,
		AvatarURL: u.AvatarURL,
	}
}

// Driver verification status constants
const (
	DriverStatusPending  = "pending"
	DriverStatusAccepted = "accepted"
	DriverStatusRejected = "rejected"
)

// DriverProfile carries the driver-side state the availability gate reads.
type DriverProfile struct {
	gorm.Model
	DriverID uint    `json:"driverId" gorm:"not null;uniqueIndex"`
	Status   string  `json:"status" gorm:"not null;default:'pending'"` // pending, accepted, rejected
	Active   bool    `json:"active" gorm:"not null;default:false"`
	Balance  float64 `json:"balance" gorm:"not null;default:0"`
	Rating   float64 `json:"rating" gorm:"not null;default:0"`
	Driver   *User   `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
}

// TableName specifies the table name
func (DriverProfile) TableName() string {
	return "driver_profiles"
}

// Vehicle is the registered vehicle descriptor shown to passengers.
type Vehicle struct {
	gorm.Model
	DriverID uint   `json:"driverId" gorm:"not null;uniqueIndex"`
	Make     string `json:"make" gorm:"not null"`
	Color    string `json:"color"`
	Plate    string `json:"plate" gorm:"not null"`
}

// TableName specifies the table name
func (Vehicle) TableName() string {
	return "vehicles"
}

// Descriptor renders the vehicle the way ride notifications display it.
func (v *Vehicle) Descriptor() string {
	return v.Make + " " + v.Color + " - " + v.Plate
}
