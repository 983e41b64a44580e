// Package realtime is the in-process pub/sub hub delivering
// audience-scoped events to long-lived subscriber streams.
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// OverflowEvent is delivered once after a subscriber queue dropped events.
const OverflowEvent = "OVERFLOW"

// ErrHubFull is returned when the subscriber cap is reached.
var ErrHubFull = errors.New("realtime: subscriber limit reached")

const (
	defaultMaxSubscribers = 500
	defaultQueueDepth     = 64
)

// Audience is the union of targeting filters for one event. An empty
// audience with Broadcast unset reaches nobody.
type Audience struct {
	Broadcast     bool     `json:"broadcast,omitempty"`
	UserIDs       []string `json:"userIds,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	AgencyCodes   []string `json:"agencyCodes,omitempty"`
	MediatorCodes []string `json:"mediatorCodes,omitempty"`
	BrandCodes    []string `json:"brandCodes,omitempty"`
	ParentCodes   []string `json:"parentCodes,omitempty"`
}

// Event is one realtime notification.
type Event struct {
	Type     string    `json:"type"`
	TS       time.Time `json:"ts"`
	Payload  any       `json:"payload,omitempty"`
	Audience Audience  `json:"-"`
}

// Identity describes a subscriber for audience matching.
type Identity struct {
	UserID       uuid.UUID
	Roles        []models.Role
	MediatorCode string
	ParentCode   string
	BrandCode    string
	AgencyCodes  []string
}

// Matches reports whether the event's audience includes this identity.
func (id Identity) Matches(a Audience) bool {
	if a.Broadcast {
		return true
	}
	userID := id.UserID.String()
	for _, u := range a.UserIDs {
		if u == userID {
			return true
		}
	}
	for _, want := range a.Roles {
		for _, have := range id.Roles {
			if string(have) == want {
				return true
			}
		}
	}
	if containsCode(a.MediatorCodes, id.MediatorCode) {
		return true
	}
	if containsCode(a.ParentCodes, id.ParentCode) {
		return true
	}
	if containsCode(a.BrandCodes, id.BrandCode) {
		return true
	}
	for _, code := range a.AgencyCodes {
		if code != "" && (code == id.MediatorCode || containsCode(id.AgencyCodes, code)) {
			return true
		}
	}
	return false
}

func containsCode(codes []string, code string) bool {
	if code == "" {
		return false
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

type subscriber struct {
	identity Identity
	queue    []Event
	notify   chan struct{}
	dropped  bool
	closed   bool
}

// Hub delivers published events to registered subscribers. Publish order
// is preserved per subscriber; there is no cross-subscriber ordering.
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextID  uint64
	maxSubs int
	depth   int
	now     func() time.Time
}

// Option customises hub construction.
type Option func(*Hub)

// WithMaxSubscribers overrides the subscriber cap.
func WithMaxSubscribers(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxSubs = n
		}
	}
}

// WithQueueDepth overrides the per-subscriber queue bound.
func WithQueueDepth(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.depth = n
		}
	}
}

// WithClock sets the time source; tests use this for determinism.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub constructs a hub with the default caps.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:    make(map[uint64]*subscriber),
		maxSubs: defaultMaxSubscribers,
		depth:   defaultQueueDepth,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is a registered listener stream.
type Subscription struct {
	hub *Hub
	id  uint64
	sub *subscriber

	cancelOnce sync.Once
}

// Subscribe registers a listener. The returned subscription must be
// closed on transport teardown; every exit path releases it.
func (h *Hub) Subscribe(identity Identity) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) >= h.maxSubs {
		return nil, ErrHubFull
	}
	sub := &subscriber{
		identity: identity,
		notify:   make(chan struct{}, 1),
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	return &Subscription{hub: h, id: id, sub: sub}, nil
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers the event to every subscriber whose identity matches
// the audience. Full queues drop their oldest event and flag an
// OVERFLOW marker for the stream.
func (h *Hub) Publish(evt Event) {
	if evt.TS.IsZero() {
		evt.TS = h.now().UTC()
	}
	h.mu.Lock()
	for _, sub := range h.subs {
		if sub.closed || !sub.identity.Matches(evt.Audience) {
			continue
		}
		if len(sub.queue) >= h.depth {
			sub.queue = sub.queue[1:]
			sub.dropped = true
		}
		sub.queue = append(sub.queue, evt)
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

// Next blocks until an event is available or done is closed. After a
// queue overflow the first delivery is the OVERFLOW marker.
func (s *Subscription) Next(done <-chan struct{}) (Event, bool) {
	for {
		s.hub.mu.Lock()
		if s.sub.closed {
			s.hub.mu.Unlock()
			return Event{}, false
		}
		if s.sub.dropped {
			s.sub.dropped = false
			evt := Event{Type: OverflowEvent, TS: s.hub.now().UTC()}
			s.hub.mu.Unlock()
			return evt, true
		}
		if len(s.sub.queue) > 0 {
			evt := s.sub.queue[0]
			s.sub.queue = s.sub.queue[1:]
			s.hub.mu.Unlock()
			return evt, true
		}
		s.hub.mu.Unlock()

		select {
		case <-done:
			return Event{}, false
		case <-s.sub.notify:
		}
	}
}

// Close detaches every live subscription; their Next calls return false.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		h.mu.Lock()
		sub.closed = true
		h.mu.Unlock()
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.cancelOnce.Do(func() {
		s.hub.mu.Lock()
		s.sub.closed = true
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		select {
		case s.sub.notify <- struct{}{}:
		default:
		}
	})
}
