// Package audit streams committed ride lifecycle events to Kafka for
// offline auditing. Emission is fire-and-forget; the coordination protocol
// never waits on it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// RideEvent is one committed lifecycle transition.
type RideEvent struct {
	RideID       uint      `json:"rideId"`
	PassengerID  uint      `json:"passengerId"`
	DriverID     *uint     `json:"driverId,omitempty"`
	Status       string    `json:"status"`
	OfferedPrice float64   `json:"offeredPrice"`
	At           time.Time `json:"at"`
}

// Producer writes ride events to a Kafka topic. A nil Producer is a valid
// no-op, so callers never have to branch on whether auditing is configured.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a producer for the given brokers and topic. Returns nil
// when no brokers are configured.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 {
		return nil
	}
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

// Publish emits one event, keyed by ride id. Failures are logged and dropped.
func (p *Producer) Publish(ev RideEvent) {
	if p == nil || p.writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("audit: failed to encode event for ride %d: %v", ev.RideID, err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(fmt.Sprint(ev.RideID)), Value: b}); err != nil {
		log.Printf("audit: failed to publish event for ride %d: %v", ev.RideID, err)
	}
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
