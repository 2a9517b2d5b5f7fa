// Package notify carries discrete scheduler events to the notification and
// remote-control collaborator.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind identifies an event.
type Kind string

const (
	RuneSpawned           Kind = "rune_spawned"
	EliteBossSpawned      Kind = "elite_boss_spawned"
	PlayerDied            Kind = "player_died"
	PlayerAffiliationSeen Kind = "player_affiliation_seen"
	DetectionFailed       Kind = "detection_failed"
	MapChanged            Kind = "map_changed"
	RetryLimitExceeded    Kind = "retry_limit_exceeded"
	NavigationUnreachable Kind = "navigation_unreachable"
)

// Event is one notification.
type Event struct {
	ID   string
	Kind Kind
	At   time.Time
	// Detail is kind specific: the affiliation for PlayerAffiliationSeen, the
	// counter name for RetryLimitExceeded, the new identity for MapChanged.
	Detail string
}

// New builds an event with a fresh ID.
func New(kind Kind, at time.Time, detail string) Event {
	return Event{ID: uuid.New().String(), Kind: kind, At: at, Detail: detail}
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(e Event)
}

// Hub logs every event and broadcasts it to subscribers.
type Hub struct {
	logger      *zap.Logger
	mu          sync.Mutex
	subscribers map[chan<- Event]struct{}
}

// NewHub creates a Hub with no subscribers.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a non-nil *Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[chan<- Event]struct{}),
	}
}

// Subscribe registers ch to receive events. If ch is full, the event is
// dropped for that subscriber.
//
// Precondition: ch must not be nil.
func (h *Hub) Subscribe(ch chan<- Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[ch] = struct{}{}
}

// Unsubscribe removes ch.
func (h *Hub) Unsubscribe(ch chan<- Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, ch)
}

// Notify logs e and delivers it to every subscriber without blocking.
func (h *Hub) Notify(e Event) {
	h.logger.Info("notification",
		zap.String("id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("detail", e.Detail),
		zap.Time("at", e.At),
	)
	h.mu.Lock()
	subs := make([]chan<- Event, 0, len(h.subscribers))
	for ch := range h.subscribers {
		subs = append(subs, ch)
	}
	h.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(Event) {}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify records e.
func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
