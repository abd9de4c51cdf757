package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ridelinkhq/ridelink-backend/internal/audit"
	"github.com/ridelinkhq/ridelink-backend/internal/fare"
	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/observability"
	"github.com/ridelinkhq/ridelink-backend/internal/rides"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
	"gorm.io/gorm"
)

func auditRide(auditor *audit.Producer, ride *models.Ride) {
	if auditor == nil {
		return
	}
	go auditor.Publish(audit.RideEvent{
		RideID:       ride.ID,
		PassengerID:  ride.PassengerID,
		DriverID:     ride.DriverID,
		Status:       ride.Status,
		OfferedPrice: ride.OfferedPrice,
		At:           time.Now(),
	})
}

// CreateRide handles ride submissions from passengers
func CreateRide(db *gorm.DB, st store.RideStore, neg *fare.Negotiator, auditor *audit.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		passengerID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypePassenger) {
			c.JSON(403, gin.H{"error": "Only passengers can request rides"})
			return
		}

		var input struct {
			PickupLocation string  `json:"pickupLocation" binding:"required"`
			Destination    string  `json:"destination" binding:"required"`
			OfferedPrice   float64 `json:"offeredPrice" binding:"required"`
			PaymentMethod  string  `json:"paymentMethod" binding:"required"`
			Comments       string  `json:"comments,omitempty"`
			AffiliateID    *uint   `json:"affiliateId,omitempty"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var passenger models.User
		if err := db.First(&passenger, passengerID).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to get passenger information"})
			return
		}

		if err := neg.ValidateOffer(c.Request.Context(), passenger.Gender, input.OfferedPrice); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		// The current-ride invariant: at most one ride per passenger in an
		// active status.
		pid := passengerID
		active, err := st.Find(c.Request.Context(), store.RideQuery{
			PassengerID: &pid,
			Statuses:    rides.ActiveStatuses(),
			Limit:       1,
		})
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to check active rides"})
			return
		}
		if len(active) > 0 {
			c.JSON(409, gin.H{"error": "You already have an active ride", "rideId": active[0].ID})
			return
		}

		ride := models.Ride{
			PassengerID:    passengerID,
			PickupLocation: input.PickupLocation,
			Destination:    input.Destination,
			Gender:         passenger.Gender,
			PaymentMethod:  input.PaymentMethod,
			Status:         rides.StatusRequested,
			OfferedPrice:   input.OfferedPrice,
			OriginalPrice:  input.OfferedPrice,
			Comments:       input.Comments,
			AffiliateID:    input.AffiliateID,
		}

		rideID, err := st.Insert(c.Request.Context(), &ride)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to create ride"})
			return
		}

		observability.RidesCreatedTotal.Inc()
		auditRide(auditor, &ride)

		c.JSON(201, gin.H{
			"message":      "Ride requested. Waiting for a driver.",
			"rideId":       rideID,
			"status":       ride.Status,
			"offeredPrice": ride.OfferedPrice,
			"fareFloor":    neg.Floor(c.Request.Context(), passenger.Gender),
		})
	}
}

// GetCurrentRide returns the passenger's single active ride
func GetCurrentRide(st store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		passengerID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypePassenger) {
			c.JSON(403, gin.H{"error": "Only passengers can view their current ride"})
			return
		}

		pid := passengerID
		active, err := st.Find(c.Request.Context(), store.RideQuery{
			PassengerID: &pid,
			Statuses:    rides.ActiveStatuses(),
			Limit:       1,
		})
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch current ride"})
			return
		}
		if len(active) == 0 {
			c.JSON(404, gin.H{"error": "No active ride"})
			return
		}

		c.JSON(200, active[0])
	}
}

// GetRide returns a ride projection with role-scoped participant summaries
func GetRide(db *gorm.DB, st store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		userID := c.GetUint("userId")
		userType := c.GetString("userType")

		rideID, err := strconv.ParseUint(rideIDStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		ride, err := st.Get(c.Request.Context(), uint(rideID))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch ride"})
			return
		}

		if userType == string(models.UserTypePassenger) && ride.PassengerID != userID {
			c.JSON(403, gin.H{"error": "Unauthorized to view this ride"})
			return
		}
		if userType == string(models.UserTypeDriver) && (ride.DriverID == nil || *ride.DriverID != userID) {
			c.JSON(403, gin.H{"error": "Unauthorized to view this ride"})
			return
		}

		response := gin.H{
			"rideId":         ride.ID,
			"status":         ride.Status,
			"pickupLocation": ride.PickupLocation,
			"destination":    ride.Destination,
			"offeredPrice":   ride.OfferedPrice,
			"paymentMethod":  ride.PaymentMethod,
			"comments":       ride.Comments,
			"startTime":      ride.StartTime,
			"endTime":        ride.EndTime,
		}

		// Drivers see the passenger summary; passengers see the driver
		// summary with rating and vehicle.
		if userType == string(models.UserTypeDriver) && ride.Passenger != nil {
			response["passenger"] = ride.Passenger.Summary()
		}
		if userType == string(models.UserTypePassenger) && ride.Driver != nil {
			summary := models.DriverSummary{
				ID:        ride.Driver.ID,
				Username:  ride.Driver.Username,
				Phone:     ride.Driver.PhoneNumber,
				Gender:    ride.Driver.Gender,
				AvatarURL: ride.Driver.AvatarURL,
			}
			var profile models.DriverProfile
			if err := db.Where("driver_id = ?", ride.Driver.ID).First(&profile).Error; err == nil {
				summary.Rating = profile.Rating
			}
			var vehicle models.Vehicle
			if err := db.Where("driver_id = ?", ride.Driver.ID).First(&vehicle).Error; err == nil {
				summary.Vehicle = vehicle.Descriptor()
			}
			response["driver"] = summary
		}

		c.JSON(200, response)
	}
}

// RaiseFare handles passenger fare raises while the ride is still requested
func RaiseFare(st store.RideStore, neg *fare.Negotiator, auditor *audit.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		passengerID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypePassenger) {
			c.JSON(403, gin.H{"error": "Only passengers can raise the fare"})
			return
		}

		rideID, err := strconv.ParseUint(rideIDStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		var input struct {
			Steps int `json:"steps"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if input.Steps == 0 {
			input.Steps = 1
		}

		ride, err := st.Get(c.Request.Context(), uint(rideID))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch ride"})
			return
		}
		if ride.PassengerID != passengerID {
			c.JSON(403, gin.H{"error": "Unauthorized to update this ride"})
			return
		}

		updated, err := neg.Raise(c.Request.Context(), uint(rideID), input.Steps)
		switch {
		case errors.Is(err, fare.ErrValidation), errors.Is(err, fare.ErrNotNegotiable):
			c.JSON(400, gin.H{"error": err.Error()})
			return
		case errors.Is(err, store.ErrConflict):
			c.JSON(409, gin.H{"error": "Ride was updated by someone else, refresh and try again"})
			return
		case err != nil:
			c.JSON(500, gin.H{"error": "Failed to raise fare"})
			return
		}

		observability.FareRaisesTotal.Inc()
		auditRide(auditor, updated)

		c.JSON(200, gin.H{
			"message":      "Fare raised",
			"rideId":       updated.ID,
			"offeredPrice": updated.OfferedPrice,
		})
	}
}

// CancelRide handles ride cancellations by either party
func CancelRide(st store.RideStore, hub *services.Hub, auditor *audit.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		userID := c.GetUint("userId")
		userType := c.GetString("userType")

		rideID, err := strconv.ParseUint(rideIDStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		ride, err := st.Get(c.Request.Context(), uint(rideID))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch ride"})
			return
		}

		actor := rides.ActorPassenger
		if userType == string(models.UserTypeDriver) {
			actor = rides.ActorDriver
			if ride.DriverID == nil || *ride.DriverID != userID {
				c.JSON(403, gin.H{"error": "Unauthorized to cancel this ride"})
				return
			}
		} else if ride.PassengerID != userID {
			c.JSON(403, gin.H{"error": "Unauthorized to cancel this ride"})
			return
		}

		if _, err := rides.Validate(ride.Status, rides.StatusCanceled, actor, time.Now()); err != nil {
			c.JSON(400, gin.H{"error": "Ride can no longer be cancelled"})
			return
		}

		status := rides.StatusCanceled
		updated, err := st.UpdateIf(c.Request.Context(), uint(rideID), ride.Status, store.RideUpdate{Status: &status})
		if errors.Is(err, store.ErrConflict) {
			c.JSON(409, gin.H{"error": "Ride was updated by someone else"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to cancel ride"})
			return
		}

		// Free the driver if one was already assigned.
		if updated.DriverID != nil {
			if err := services.SetDriverBusy(c.Request.Context(), *updated.DriverID, false); err == nil {
				services.ScheduleLocalAlert(hub, *updated.DriverID, "Ride cancelled", "The ride was cancelled")
			}
		}
		if actor == rides.ActorDriver {
			services.ScheduleLocalAlert(hub, updated.PassengerID, "Ride cancelled", "The driver cancelled the ride")
		}

		observability.RidesCanceledTotal.Inc()
		auditRide(auditor, updated)

		c.JSON(200, gin.H{
			"message": "Ride cancelled successfully",
			"rideId":  updated.ID,
			"status":  updated.Status,
		})
	}
}

// StartRide is the passenger's arrival acknowledgment: waiting -> in_progress
func StartRide(st store.RideStore, auditor *audit.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		passengerID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypePassenger) {
			c.JSON(403, gin.H{"error": "Only passengers can start the ride"})
			return
		}

		rideID, err := strconv.ParseUint(rideIDStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		ride, err := st.Get(c.Request.Context(), uint(rideID))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch ride"})
			return
		}
		if ride.PassengerID != passengerID {
			c.JSON(403, gin.H{"error": "Unauthorized to start this ride"})
			return
		}

		transition, err := rides.Validate(ride.Status, rides.StatusInProgress, rides.ActorPassenger, time.Now())
		if err != nil {
			c.JSON(400, gin.H{"error": "Ride must be waiting before it can start"})
			return
		}

		status := rides.StatusInProgress
		updated, err := st.UpdateIf(c.Request.Context(), uint(rideID), rides.StatusWaiting, store.RideUpdate{
			Status:    &status,
			StartTime: transition.StartTime,
		})
		if errors.Is(err, store.ErrConflict) {
			c.JSON(409, gin.H{"error": "Ride was updated by someone else"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to start ride"})
			return
		}

		auditRide(auditor, updated)

		c.JSON(200, gin.H{
			"message":   "Ride started",
			"rideId":    updated.ID,
			"status":    updated.Status,
			"startTime": updated.StartTime,
		})
	}
}

// RateRide records a write-once rating for a completed ride, in either
// direction
func RateRide(db *gorm.DB, st store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		userID := c.GetUint("userId")
		userType := c.GetString("userType")

		rideID, err := strconv.ParseUint(rideIDStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		var input struct {
			Score   float64 `json:"score" binding:"required"`
			Comment string  `json:"comment,omitempty"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if input.Score < 1 || input.Score > 5 {
			c.JSON(400, gin.H{"error": "Score must be between 1 and 5"})
			return
		}

		ride, err := st.Get(c.Request.Context(), uint(rideID))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch ride"})
			return
		}

		if ride.Status != rides.StatusCompleted {
			c.JSON(400, gin.H{"error": "Only completed rides can be rated"})
			return
		}
		if ride.DriverID == nil {
			c.JSON(500, gin.H{"error": "Completed ride has no driver"})
			return
		}

		var rateeID uint
		switch {
		case ride.PassengerID == userID:
			rateeID = *ride.DriverID
		case *ride.DriverID == userID:
			rateeID = ride.PassengerID
		default:
			c.JSON(403, gin.H{"error": "Unauthorized to rate this ride"})
			return
		}

		var existing models.Rating
		if err := db.Where("ride_id = ? AND rater_id = ?", rideID, userID).First(&existing).Error; err == nil {
			c.JSON(400, gin.H{"error": "Ride already rated"})
			return
		}

		rating := models.Rating{
			RideID:  uint(rideID),
			RaterID: userID,
			RateeID: rateeID,
			Score:   input.Score,
			Comment: input.Comment,
		}
		if err := db.Create(&rating).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to save rating"})
			return
		}

		// Keep the driver's aggregate rating fresh when the passenger is
		// the one rating.
		if userType == string(models.UserTypePassenger) {
			var avg float64
			if err := db.Model(&models.Rating{}).Where("ratee_id = ?", rateeID).
				Select("AVG(score)").Scan(&avg).Error; err == nil {
				db.Model(&models.DriverProfile{}).Where("driver_id = ?", rateeID).Update("rating", avg)
			}
		}

		c.JSON(200, gin.H{
			"message": "Rating saved",
			"rideId":  rideID,
			"score":   input.Score,
		})
	}
}

// GetAvailableDrivers returns the aggregate available-driver counter
func GetAvailableDrivers() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := services.AvailableDriverCount(c.Request.Context())
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to count available drivers"})
			return
		}
		c.JSON(200, gin.H{"availableDrivers": count})
	}
}
