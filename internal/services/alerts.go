package services

import (
	"log"
)

// LocalAlert is a fire-and-forget device alert. Delivery is best effort;
// nothing in the core waits on it.
type LocalAlert struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// ScheduleLocalAlert pushes an alert at a user over the hub. No delivery
// guarantee is surfaced to callers.
func ScheduleLocalAlert(hub *Hub, userID uint, title, body string) {
	if hub == nil {
		return
	}
	hub.send(userID, "local_alert", LocalAlert{Title: title, Body: body})
	log.Printf("Alert scheduled for user %d: %s", userID, title)
}
