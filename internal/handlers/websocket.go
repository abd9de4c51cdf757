package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/ridelinkhq/ridelink-backend/internal/models"
	"github.com/ridelinkhq/ridelink-backend/internal/observability"
	"github.com/ridelinkhq/ridelink-backend/internal/observer"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
)

// WebSocketHandler upgrades the connection and attaches the per-connection
// observer for the authenticated user. The observer lives exactly as long as
// the socket: it is started here and stopped when the client's Done channel
// closes.
func WebSocketHandler(hub *services.Hub, st store.RideStore, fabric services.Fabric) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		userType := c.GetString("userType")

		client, err := services.HandleWebSocket(hub, c.Writer, c.Request, userID, userType)
		if err != nil {
			return
		}
		observability.ConnectedClients.Inc()

		var obs interface{ Stop() }
		switch userType {
		case string(models.UserTypeDriver):
			o := observer.NewDriverObserver(st, hub, userID)
			if err := o.Start(context.Background()); err == nil {
				obs = o
			}
		default:
			o := observer.NewPassengerObserver(st, fabric, hub, userID)
			if err := o.Start(context.Background()); err == nil {
				obs = o
			}
		}

		go func() {
			<-client.Done
			if obs != nil {
				obs.Stop()
			}
			observability.ConnectedClients.Dec()
		}()
	}
}
