package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultBuffer = 32

// Publisher is what services use to push events. Publish never blocks.
type Publisher interface {
	Publish(topic string, ev Event)
}

// Relay forwards locally published events to other instances.
type Relay interface {
	Forward(topic string, ev Event)
}

// Subscriber describes one live connection.
type Subscriber struct {
	AccountID string
	SessionID string
	// Admin subscribes the connection to the moderation topic as well.
	Admin bool
}

// Subscription is a live connection's event stream. C is closed when the subscription ends.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	sub    Subscriber
	topics []string
	once   sync.Once
}

// Hub is an in-process topic fan-out. A subscriber whose buffer is full is disconnected rather
// than having events dropped, so its client reconnects and re-validates.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	origin string
	relay  Relay
	log    zerolog.Logger
	now    func() time.Time
}

// NewHub returns a hub whose subscriptions buffer up to buffer events (32 when buffer <= 0).
func NewHub(buffer int, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		topics: map[string]map[*Subscription]struct{}{},
		buffer: buffer,
		origin: uuid.NewString(),
		log:    log,
		now:    time.Now,
	}
}

// Origin identifies this instance on relayed events.
func (h *Hub) Origin() string { return h.origin }

// SetRelay installs the cross-instance relay. Call before serving traffic.
func (h *Hub) SetRelay(r Relay) { h.relay = r }

// Subscribe registers a connection. The subscription ends when ctx is done, when the hub delivers a
// force_signout for its account, or when its buffer overflows.
func (h *Hub) Subscribe(ctx context.Context, s Subscriber) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, sub: s, topics: []string{AccountTopic(s.AccountID)}}
	if s.Admin {
		sub.topics = append(sub.topics, TopicModeration)
	}
	h.mu.Lock()
	for _, t := range sub.topics {
		if h.topics[t] == nil {
			h.topics[t] = map[*Subscription]struct{}{}
		}
		h.topics[t][sub] = struct{}{}
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.Unsubscribe(sub)
	}()
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	sub.once.Do(func() {
		for _, t := range sub.topics {
			delete(h.topics[t], sub)
			if len(h.topics[t]) == 0 {
				delete(h.topics, t)
			}
		}
		close(sub.ch)
	})
}

// Publish delivers ev to the topic's subscribers and forwards it to the relay.
func (h *Hub) Publish(topic string, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = h.now().UTC()
	}
	if ev.Origin == "" {
		ev.Origin = h.origin
	}
	h.deliver(topic, ev)
	if h.relay != nil && ev.Origin == h.origin {
		h.relay.Forward(topic, ev)
	}
}

// Deliver publishes an event received from another instance to local subscribers only.
func (h *Hub) Deliver(topic string, ev Event) {
	if ev.Origin == h.origin {
		return
	}
	h.deliver(topic, ev)
}

func (h *Hub) deliver(topic string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	signout := ev.Type == TypeForceSignout && topic == AccountTopic(ev.UserID)
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- ev:
			if signout {
				h.removeLocked(sub)
			}
		default:
			h.log.Warn().Str("account_id", sub.sub.AccountID).Str("session_id", sub.sub.SessionID).
				Str("event_type", ev.Type).Msg("broadcast: subscriber buffer full, disconnecting")
			h.removeLocked(sub)
		}
	}
}

// Count returns how many subscriptions are registered on topic.
func (h *Hub) Count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// NewEvent builds an event with data marshaled to JSON. Marshal failures leave Data empty.
func NewEvent(typ, userID, adminID string, data any) Event {
	ev := Event{Type: typ, UserID: userID, AdminID: adminID}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			ev.Data = b
		}
	}
	return ev
}
