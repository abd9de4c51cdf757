package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Fabric is the broadcast substrate the coordination protocol runs over:
// ad-hoc named topics with at-least-once delivery to currently-connected
// subscribers and no ordering guarantees. Correctness never depends on it;
// only latency does.
type Fabric interface {
	// OpenTopic connects to a named topic. onSubscribed fires once the
	// transport reports a live, subscribed state; publishers that need the
	// claim/notify pattern must wait for it before publishing.
	OpenTopic(ctx context.Context, name string, onSubscribed func()) (Topic, error)
}

// Topic is a single broadcast channel.
type Topic interface {
	Publish(ctx context.Context, event string, payload interface{}) error
	Subscribe(event string, handler func(payload []byte)) (unsubscribe func())
	Close() error
}

// AcceptTopicName builds the per-ride claim topic used by the matching
// protocol.
func AcceptTopicName(rideID uint) string {
	return fmt.Sprintf("accept-ride-request-%d", rideID)
}

// RideChangesTopic carries post-commit ride change notifications from the
// record store.
const RideChangesTopic = "ride-changes"

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// redisFabric implements Fabric over Redis pub/sub.
type redisFabric struct {
	client *redis.Client
}

// NewRedisFabric returns a Fabric backed by the shared Redis client.
func NewRedisFabric() Fabric {
	return &redisFabric{client: RedisClient}
}

func (f *redisFabric) OpenTopic(ctx context.Context, name string, onSubscribed func()) (Topic, error) {
	t := &redisTopic{
		channel:  "topic:" + name,
		client:   f.client,
		handlers: make(map[string][]*topicHandler),
	}

	pubsub := f.client.Subscribe(ctx, t.channel)
	// Receive blocks until the subscription confirmation arrives; that
	// confirmation is the liveness signal callers wait on.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", name, err)
	}
	t.pubsub = pubsub
	if onSubscribed != nil {
		onSubscribed()
	}

	go t.readLoop()
	return t, nil
}

type topicHandler struct {
	fn func(payload []byte)
}

type redisTopic struct {
	channel  string
	client   *redis.Client
	pubsub   *redis.PubSub
	mu       sync.RWMutex
	handlers map[string][]*topicHandler
}

func (t *redisTopic) readLoop() {
	for msg := range t.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("fabric: dropping malformed message on %s: %v", t.channel, err)
			continue
		}

		t.mu.RLock()
		handlers := append([]*topicHandler(nil), t.handlers[env.Event]...)
		t.mu.RUnlock()

		for _, h := range handlers {
			h.fn(env.Payload)
		}
	}
}

func (t *redisTopic) Publish(ctx context.Context, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", event, err)
	}
	data, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.channel, data).Err()
}

func (t *redisTopic) Subscribe(event string, handler func(payload []byte)) func() {
	h := &topicHandler{fn: handler}
	t.mu.Lock()
	t.handlers[event] = append(t.handlers[event], h)
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		list := t.handlers[event]
		for i, cur := range list {
			if cur == h {
				t.handlers[event] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (t *redisTopic) Close() error {
	return t.pubsub.Close()
}
