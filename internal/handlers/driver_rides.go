package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ridelinkhq/ridelink-backend/internal/audit"
	"github.com/ridelinkhq/ridelink-backend/internal/fare"
	"github.com/ridelinkhq/ridelink-backend/internal/match"
	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/observability"
	"github.com/ridelinkhq/ridelink-backend/internal/observer"
	"github.com/ridelinkhq/ridelink-backend/internal/policy"
	"github.com/ridelinkhq/ridelink-backend/internal/rides"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
	"gorm.io/gorm"
)

func driverGate(c *gin.Context, db *gorm.DB, pol policy.Reader, driverID uint) (bool, []string) {
	var profile models.DriverProfile
	verification := models.DriverStatusPending
	balance := 0.0
	if err := db.Where("driver_id = ?", driverID).First(&profile).Error; err == nil {
		verification = profile.Status
		balance = profile.Balance
	}

	var vehicleCount int64
	db.Model(&models.Vehicle{}).Where("driver_id = ?", driverID).Count(&vehicleCount)

	return rides.Eligible(rides.GateInput{
		VehicleRegistered:   vehicleCount > 0,
		VerificationStatus:  verification,
		Balance:             balance,
		BalanceCheckEnabled: policy.GetBool(c.Request.Context(), pol, models.ConfigBalanceCheckEnabled, false),
	})
}

// AcceptRide runs the matching protocol for a driver's accept attempt
func AcceptRide(db *gorm.DB, st store.RideStore, coord *match.Coordinator, neg *fare.Negotiator, pol policy.Reader, hub *services.Hub, auditor *audit.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		driverID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can accept rides"})
			return
		}

		rideID, err := strconv.ParseUint(rideIDStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		var input struct {
			CounterOffer *float64 `json:"counterOffer,omitempty"`
		}
		if err := c.ShouldBindJSON(&input); err != nil && err.Error() != "EOF" {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		// Advisory gate; the conditional write below remains the authority.
		if eligible, reasons := driverGate(c, db, pol, driverID); !eligible {
			c.JSON(403, gin.H{"error": "Driver not eligible to accept rides", "reasons": reasons})
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

		if input.CounterOffer != nil {
			if err := neg.ValidateOffer(c.Request.Context(), ride.Gender, *input.CounterOffer); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
		}

		var driver models.User
		if err := db.First(&driver, driverID).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to get driver information"})
			return
		}
		vehicleDesc := ""
		var vehicle models.Vehicle
		if err := db.Where("driver_id = ?", driverID).First(&vehicle).Error; err == nil {
			vehicleDesc = vehicle.Descriptor()
		}

		observability.AcceptAttemptsTotal.Inc()

		updated, err := coord.Accept(c.Request.Context(), match.AcceptRequest{
			RideID:       uint(rideID),
			DriverID:     driverID,
			DriverName:   driver.Username,
			Vehicle:      vehicleDesc,
			CounterOffer: input.CounterOffer,
		})
		switch {
		case errors.Is(err, match.ErrDriverNotAvailable), errors.Is(err, store.ErrConflict):
			observability.AcceptConflictsTotal.Inc()
			c.JSON(409, gin.H{"error": "Driver not available"})
			return
		case errors.Is(err, match.ErrCouldNotSubmit):
			c.JSON(502, gin.H{"error": "Could not submit request"})
			return
		case errors.Is(err, rides.ErrInvalidTransition):
			c.JSON(400, gin.H{"error": "Ride is no longer available"})
			return
		case errors.Is(err, store.ErrNotFound):
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		case err != nil:
			c.JSON(500, gin.H{"error": "Failed to accept ride"})
			return
		}

		if err := services.SetDriverBusy(c.Request.Context(), driverID, true); err != nil {
			// Busy-set drift only affects the UX counter; the ride row is
			// already committed.
			services.ScheduleLocalAlert(hub, driverID, "Sync warning", "Availability counter may lag")
		}

		hub.SendRideAccepted(updated.PassengerID, services.RideAccepted{
			RideID:     updated.ID,
			DriverID:   driverID,
			DriverName: driver.Username,
			Vehicle:    vehicleDesc,
			FinalPrice: updated.OfferedPrice,
		})
		services.ScheduleLocalAlert(hub, updated.PassengerID, "Driver found", driver.Username+" is on the way")

		auditRide(auditor, updated)

		c.JSON(200, gin.H{
			"message":    "Ride accepted successfully",
			"rideId":     updated.ID,
			"status":     updated.Status,
			"finalPrice": updated.OfferedPrice,
		})
	}
}

// DriverArrived marks the driver as physically arrived: accepted -> waiting
func DriverArrived(st store.RideStore, hub *services.Hub, auditor *audit.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		driverID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can mark arrival"})
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
		if ride.DriverID == nil || *ride.DriverID != driverID {
			c.JSON(403, gin.H{"error": "Unauthorized to update this ride"})
			return
		}

		if _, err := rides.Validate(ride.Status, rides.StatusWaiting, rides.ActorDriver, time.Now()); err != nil {
			c.JSON(400, gin.H{"error": "Ride must be accepted before marking arrival"})
			return
		}

		status := rides.StatusWaiting
		updated, err := st.UpdateIf(c.Request.Context(), uint(rideID), rides.StatusAccepted, store.RideUpdate{Status: &status})
		if errors.Is(err, store.ErrConflict) {
			c.JSON(409, gin.H{"error": "Ride was updated by someone else"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to update ride status"})
			return
		}

		services.ScheduleLocalAlert(hub, updated.PassengerID, "Driver arrived", "Your driver is waiting at the pickup location")
		auditRide(auditor, updated)

		c.JSON(200, gin.H{
			"message": "Arrival confirmed",
			"rideId":  updated.ID,
			"status":  updated.Status,
		})
	}
}

// CompleteRide finishes the trip: in_progress -> completed
func CompleteRide(st store.RideStore, hub *services.Hub, auditor *audit.Producer) gin.HandlerFunc {
	return func(c *gin.Context) {
		rideIDStr := c.Param("rideId")
		driverID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can complete rides"})
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
		if ride.DriverID == nil || *ride.DriverID != driverID {
			c.JSON(403, gin.H{"error": "Unauthorized to complete this ride"})
			return
		}

		transition, err := rides.Validate(ride.Status, rides.StatusCompleted, rides.ActorDriver, time.Now())
		if err != nil {
			c.JSON(400, gin.H{"error": "Ride must be in progress before completion"})
			return
		}

		status := rides.StatusCompleted
		updated, err := st.UpdateIf(c.Request.Context(), uint(rideID), rides.StatusInProgress, store.RideUpdate{
			Status:  &status,
			EndTime: transition.EndTime,
		})
		if errors.Is(err, store.ErrConflict) {
			c.JSON(409, gin.H{"error": "Ride was updated by someone else"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to complete ride"})
			return
		}

		services.SetDriverBusy(c.Request.Context(), driverID, false)
		observability.RidesCompletedTotal.Inc()
		services.ScheduleLocalAlert(hub, updated.PassengerID, "Ride completed", "Please rate your driver")
		auditRide(auditor, updated)

		c.JSON(200, gin.H{
			"message": "Ride completed successfully",
			"rideId":  updated.ID,
			"status":  updated.Status,
			"endTime": updated.EndTime,
		})
	}
}

// GetRequestedRides returns the capped, time-ordered open request feed
func GetRequestedRides(st store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userType := c.GetString("userType")
		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can view requested rides"})
			return
		}

		open, err := st.Find(c.Request.Context(), store.RideQuery{
			Statuses:    []string{rides.StatusRequested},
			NewestFirst: true,
			Limit:       observer.RequestedFeedLimit,
		})
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch requested rides"})
			return
		}

		c.JSON(200, open)
	}
}

// GetDriverCurrentRide returns the driver's single active ride
func GetDriverCurrentRide(st store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can view their current ride"})
			return
		}

		did := driverID
		active, err := st.Find(c.Request.Context(), store.RideQuery{
			DriverID: &did,
			Statuses: rides.ActiveStatuses(),
			Limit:    1,
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

// SetDriverActive toggles the driver's on-shift flag
func SetDriverActive(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can update availability"})
			return
		}

		var input struct {
			Active *bool `json:"active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if err := db.Model(&models.DriverProfile{}).Where("driver_id = ?", driverID).
			Update("active", *input.Active).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to update availability"})
			return
		}

		if err := services.SetDriverActive(c.Request.Context(), driverID, *input.Active); err != nil {
			c.JSON(500, gin.H{"error": "Failed to update availability counter"})
			return
		}

		c.JSON(200, gin.H{
			"message": "Availability updated",
			"active":  *input.Active,
		})
	}
}

// GetDriverEligibility returns the availability gate verdict with reasons
func GetDriverEligibility(db *gorm.DB, pol policy.Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverID := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDriver) {
			c.JSON(403, gin.H{"error": "Only drivers can check eligibility"})
			return
		}

		eligible, reasons := driverGate(c, db, pol, driverID)
		c.JSON(200, gin.H{
			"eligible": eligible,
			"reasons":  reasons,
		})
	}
}
