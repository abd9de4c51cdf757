package models

import (
	"gorm.io/gorm"
)

// Rating is written once per completed ride per direction: the passenger
// rates the driver and the driver rates the passenger. The unique index on
// (ride_id, rater_id) is what makes the write-once rule stick.
type Rating struct {
	gorm.Model
	RideID  uint    `json:"rideId" gorm:"not null;uniqueIndex:idx_ratings_ride_rater"`
	RaterID uint    `json:"raterId" gorm:"not null;uniqueIndex:idx_ratings_ride_rater"`
	RateeID uint    `json:"rateeId" gorm:"not null"`
	Score   float64 `json:"score" gorm:"not null;check:score >= 1 AND score <= 5"`
	Comment string  `json:"comment,omitempty"`
	Rater   *User   `json:"rater,omitempty" gorm:"foreignKey:RaterID"`
	Ratee   *User   `json:"ratee,omitempty" gorm:"foreignKey:RateeID"`
}

// TableName specifies the table name
func (Rating) TableName() string {
	return "ratings"
}
