// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (supervisor, sampler,
// config watcher, broker discovery) to subscribers (WebSocket handler,
// metrics mirror). The bus is nil-safe: calling Publish on a nil *Bus
// is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSupervisor identifies events from the connectivity supervisor.
	SourceSupervisor = "supervisor"
	// SourceSampler identifies events from the sensor publish path.
	SourceSampler = "sampler"
	// SourceConfig identifies events from the config watcher.
	SourceConfig = "config"
	// SourceDiscovery identifies events from broker discovery.
	SourceDiscovery = "discovery"
)

// Kind constants describe the type of event within a source.
const (
	// KindLinkState signals a link state transition.
	// Data: state, profile, attempts.
	KindLinkState = "link_state"
	// KindSessionState signals a session state transition.
	// Data: state, attempts, reason.
	KindSessionState = "session_state"
	// KindStatusSignal signals a change of the LED pattern.
	// Data: signal, pulse_count, pulse_width_ms, gap_width_ms,
	// cadence_ms.
	KindStatusSignal = "status_signal"
	// KindFault signals a sensor or runtime fault flag change.
	// Data: layer, active, error.
	KindFault = "fault"
	// KindDiagnostic signals a diagnostic event offered for publication.
	// Data: mirrors the diagnostic payload fields.
	KindDiagnostic = "diagnostic"

	// KindSamplePublished signals a sensor reading was published.
	// Data: co2, temp, rh, topic.
	KindSamplePublished = "sample_published"
	// KindSamplePending signals the sensor had no reading yet.
	// Data: none.
	KindSamplePending = "sample_pending"

	// KindConfigReloaded signals the config file changed on disk.
	// Data: path, profiles.
	KindConfigReloaded = "config_reloaded"

	// KindBrokerFound signals mDNS discovery located a broker.
	// Data: endpoint, instance.
	KindBrokerFound = "broker_found"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
