package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ridelinkhq/ridelink-backend/internal/audit"
	"github.com/ridelinkhq/ridelink-backend/internal/database"
	"github.com/ridelinkhq/ridelink-backend/internal/fare"
	"github.com/ridelinkhq/ridelink-backend/internal/handlers"
	"github.com/ridelinkhq/ridelink-backend/internal/match"
	"github.com/ridelinkhq/ridelink-backend/internal/middleware"
	"github.com/ridelinkhq/ridelink-backend/internal/policy"
	"github.com/ridelinkhq/ridelink-backend/internal/services"
	"github.com/ridelinkhq/ridelink-backend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	// Initialize database with better error handling
	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Get underlying SQL DB instance
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Initialize Redis
	if err := services.InitRedis(); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	fabric := services.NewRedisFabric()

	rideStore, err := store.NewGormStore(context.Background(), db, fabric)
	if err != nil {
		log.Fatalf("Failed to initialize ride store: %v", err)
	}

	pol := policy.NewGormReader(db)
	negotiator := &fare.Negotiator{Store: rideStore, Policy: pol}

	// Audit trail is optional; with no brokers configured events are dropped.
	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	auditor := audit.NewProducer(brokers, "ride-events")
	defer auditor.Close()

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run()

	coordinator := match.NewCoordinator(rideStore, fabric)
	coordinator.OnIdle = func(driverID, rideID uint) {
		hub.SendAcceptIdle(driverID, services.AcceptIdle{
			RideID: rideID,
			Reason: "no confirmation received",
		})
	}

	// Initialize router
	r := gin.Default()

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(config))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Routes
	api := r.Group("/api")
	{
		// WebSocket connection
		api.GET("/ws", middleware.AuthMiddleware(), handlers.WebSocketHandler(hub, rideStore, fabric))

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// Rides routes
			rides := protected.Group("/rides")
			{
				rides.POST("", handlers.CreateRide(db, rideStore, negotiator, auditor))
				rides.GET("/current", handlers.GetCurrentRide(rideStore))
				rides.GET("/available-drivers", handlers.GetAvailableDrivers())
				rides.GET("/:rideId", handlers.GetRide(db, rideStore))
				rides.POST("/:rideId/raise-fare", handlers.RaiseFare(rideStore, negotiator, auditor))
				rides.POST("/:rideId/cancel", handlers.CancelRide(rideStore, hub, auditor))
				rides.POST("/:rideId/start", handlers.StartRide(rideStore, auditor))
				rides.POST("/:rideId/rate", handlers.RateRide(db, rideStore))
			}

			// Driver routes
			driver := protected.Group("/driver")
			{
				driver.POST("/rides/:rideId/accept", handlers.AcceptRide(db, rideStore, coordinator, negotiator, pol, hub, auditor))
				driver.POST("/rides/:rideId/arrived", handlers.DriverArrived(rideStore, hub, auditor))
				driver.POST("/rides/:rideId/complete", handlers.CompleteRide(rideStore, hub, auditor))
				driver.GET("/rides/requested", handlers.GetRequestedRides(rideStore))
				driver.GET("/rides/current", handlers.GetDriverCurrentRide(rideStore))
				driver.POST("/active", handlers.SetDriverActive(db))
				driver.GET("/eligibility", handlers.GetDriverEligibility(db, pol))
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
