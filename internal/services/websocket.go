package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents a WebSocket client
type Client struct {
	ID       uint
	UserType string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	// Done is closed when the connection goes away; observers tied to this
	// client tear down their subscriptions on it.
	Done chan struct{}
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mutex      sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client %d connected", client.ID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				close(client.Done)
			}
			h.mutex.Unlock()
			log.Printf("Client %d disconnected", client.ID)

		case message := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					log.Printf("Warning: Could not send to client %d (channel full)", client.ID)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// BroadcastToUser sends a message to a specific user
func (h *Hub) BroadcastToUser(userID uint, message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.ID == userID {
			select {
			case client.Send <- message:
			default:
				log.Printf("Warning: Could not send to client %d (channel full)", client.ID)
			}
		}
	}
}

// BroadcastToUserType sends a message to all users of a specific type
func (h *Hub) BroadcastToUserType(userType string, message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.UserType == userType {
			select {
			case client.Send <- message:
			default:
				log.Printf("Warning: Could not send to client %d (channel full)", client.ID)
			}
		}
	}
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// WebSocket message types
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// RideInvalidate tells a client its cached ride projection is stale and must
// be refetched.
type RideInvalidate struct {
	RideID uint   `json:"rideId"`
	Status string `json:"status"`
}

// RequestsInvalidate tells a driver its open-requests feed is stale.
type RequestsInvalidate struct {
	Reason string `json:"reason"`
}

// RateDriver forces the passenger into the rating step after completion.
type RateDriver struct {
	RideID   uint `json:"rideId"`
	DriverID uint `json:"driverId"`
}

// AcceptIdle reverts a driver's pending accept state back to idle.
type AcceptIdle struct {
	RideID uint   `json:"rideId"`
	Reason string `json:"reason"`
}

// RideAccepted announces a won accept to the passenger.
type RideAccepted struct {
	RideID     uint    `json:"rideId"`
	DriverID   uint    `json:"driverId"`
	DriverName string  `json:"driverName"`
	Vehicle    string  `json:"vehicle"`
	FinalPrice float64 `json:"finalPrice"`
}

// Send marshals and pushes one typed message to a user.
func (h *Hub) Send(userID uint, msgType string, data interface{}) {
	h.send(userID, msgType, data)
}

func (h *Hub) send(userID uint, msgType string, data interface{}) {
	message := WebSocketMessage{Type: msgType, Data: data}
	raw, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling %s: %v", msgType, err)
		return
	}
	h.BroadcastToUser(userID, raw)
}

// SendRideInvalidate pushes a cache invalidation to one user.
func (h *Hub) SendRideInvalidate(userID uint, inv RideInvalidate) {
	h.send(userID, "ride_invalidate", inv)
}

// SendRequestsInvalidate pushes an open-requests feed invalidation to a driver.
func (h *Hub) SendRequestsInvalidate(driverID uint, inv RequestsInvalidate) {
	h.send(driverID, "requests_invalidate", inv)
}

// SendRateDriver pushes the forced rating navigation to the passenger.
func (h *Hub) SendRateDriver(passengerID uint, rate RateDriver) {
	h.send(passengerID, "rate_driver", rate)
}

// SendAcceptIdle reverts the driver UI out of its in-flight accept state.
func (h *Hub) SendAcceptIdle(driverID uint, idle AcceptIdle) {
	h.send(driverID, "accept_idle", idle)
}

// SendRideAccepted announces the accepted ride to the passenger.
func (h *Hub) SendRideAccepted(passengerID uint, accepted RideAccepted) {
	h.send(passengerID, "ride_accepted", accepted)
}

// HandleWebSocket upgrades the connection and registers the client with the
// hub. The returned client's Done channel closes when the peer disconnects.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID uint, userType string) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return nil, err
	}

	client := &Client{
		ID:       userID,
		UserType: userType,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Hub:      hub,
		Done:     make(chan struct{}),
	}

	client.Hub.register <- client

	go client.writePump()
	go client.readPump()
	return client, nil
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		// Inbound traffic is ignored; all state changes go through the HTTP
		// API so they hit the same guard tables.
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
