package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/metrics"
)

// OutcomeSink receives every finished run.
type OutcomeSink interface {
	PublishOutcome(o Outcome)
}

// Event is the serialized form of an Outcome sent to subscribers and MQTT.
type Event struct {
	ID         string `json:"event_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Video      string `json:"video"`
	BaseName   string `json:"base_name,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Segments   int    `json:"segments"`
	Error      string `json:"error,omitempty"`
	VisionErr  string `json:"vision_error,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	Timestamp  string `json:"timestamp"`
}

// NewEvent converts an outcome. ID is left empty.
func NewEvent(o Outcome) Event {
	e := Event{
		Status:     string(o.Status),
		Reason:     string(o.Reason),
		Video:      o.Video,
		BaseName:   o.BaseName,
		Transcript: o.Transcript,
		Segments:   o.Segments,
		Error:      o.Message(),
		ElapsedMs:  o.Elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if o.VisionErr != nil {
		e.VisionErr = o.VisionErr.Error()
	}
	return e
}

// EventFilter limits a subscription. Empty fields match everything.
type EventFilter struct {
	Statuses []string
}

func (f EventFilter) matches(e Event) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == e.Status {
			return true
		}
	}
	return false
}

// EventBus provides pub-sub distribution of outcomes to in-process
// subscribers. It keeps a ring buffer for replay on reconnect.
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
	if ringSize <= 0 {
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

// SubscriberCount returns the number of live subscriptions.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// ReplaySince returns buffered events after lastEventID, oldest first.
// An empty id replays the whole buffer.
func (eb *EventBus) ReplaySince(lastEventID string, filter EventFilter) []Event {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""

	for i := 0; i < eb.ringSize; i++ {
		idx := (eb.ringHead + i) % eb.ringSize
		e := eb.ring[idx]
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

// PublishOutcome implements OutcomeSink.
func (eb *EventBus) PublishOutcome(o Outcome) {
	eb.Publish(NewEvent(o))
}

// Publish assigns an id, buffers the event and fans it out. Slow subscribers
// miss events rather than block the publisher.
func (eb *EventBus) Publish(e Event) Event {
	seq := eb.seq.Add(1)
	e.ID = fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq)

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = e
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if sub.filter.matches(e) {
			select {
			case sub.ch <- e:
			default:
			}
		}
	}
	eb.mu.RUnlock()
	return e
}

// TopicPublisher sends a payload to a broker topic.
type TopicPublisher interface {
	Publish(topic string, payload []byte) error
}

// TopicSink publishes each outcome as JSON to <prefix>/<status>.
type TopicSink struct {
	pub    TopicPublisher
	prefix string
	log    zerolog.Logger
}

func NewTopicSink(pub TopicPublisher, prefix string, log zerolog.Logger) *TopicSink {
	return &TopicSink{
		pub:    pub,
		prefix: prefix,
		log:    log.With().Str("component", "events").Logger(),
	}
}

// Topic returns the topic an outcome with status s is published on.
func (t *TopicSink) Topic(s Status) string {
	return t.prefix + "/" + string(s)
}

// PublishOutcome implements OutcomeSink. Publish errors are logged only.
func (t *TopicSink) PublishOutcome(o Outcome) {
	data, err := json.Marshal(NewEvent(o))
	if err != nil {
		t.log.Warn().Err(err).Msg("failed to encode outcome event")
		return
	}
	topic := t.Topic(o.Status)
	if err := t.pub.Publish(topic, data); err != nil {
		t.log.Warn().Err(err).Str("topic", topic).Msg("failed to publish outcome event")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(o.Status)).Inc()
}
