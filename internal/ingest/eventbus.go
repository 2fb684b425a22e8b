package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/scribe-engine/internal/metrics"
)

// Event types published on the bus.
const (
	EventMergeCompleted = "merge_completed"
	EventPairExpired    = "pair_expired"
)

// Event is one entry on the live event stream.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source,omitempty"`
	Name      string          `json:"name,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Seq returns the bus sequence number encoded in the event ID, or 0 when
// the ID was not assigned by Publish.
func (e Event) Seq() uint64 {
	i := strings.LastIndexByte(e.ID, '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(e.ID[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// EventFilter selects events by type and job source. Empty lists match all.
type EventFilter struct {
	Types   []string
	Sources []string
}

// EventBus fans events out to stream subscribers and keeps a ring buffer
// for replay on reconnect.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter EventFilter
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(ringSize int) *EventBus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &EventBus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (eb *EventBus) Subscribe(filter EventFilter) (<-chan Event, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan Event, 64)
	eb.subscribers[id] = subscriber{ch: ch, filter: filter}
	eb.mu.Unlock()

	cancel := func() {
		eb.mu.Lock()
		delete(eb.subscribers, id)
		eb.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the number of connected subscribers.
func (eb *EventBus) Subscribers() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// ReplaySince returns buffered events after the given event ID, oldest first.
// An ID no longer in the buffer replays nothing.
func (eb *EventBus) ReplaySince(lastEventID string, filter EventFilter) []Event {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""

	for i := 0; i < eb.ringSize; i++ {
		e := eb.ring[(eb.ringHead+i)%eb.ringSize]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if filter.matches(e) {
			events = append(events, e)
		}
	}
	return events
}

// Publish sends an event to all matching subscribers and adds it to the ring
// buffer. Slow subscribers miss events rather than block the publisher.
func (eb *EventBus) Publish(typ, source, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	now := time.Now()
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), eb.seq.Add(1)),
		Type:      typ,
		Source:    source,
		Name:      name,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}
	metrics.EventsPublishedTotal.WithLabelValues(typ).Inc()

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = event
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if sub.filter.matches(event) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	eb.mu.RUnlock()
}

func (f EventFilter) matches(e Event) bool {
	return matchAny(f.Types, e.Type) && matchAny(f.Sources, e.Source)
}

func matchAny(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if strings.TrimSpace(s) == v {
			return true
		}
	}
	return false
}
