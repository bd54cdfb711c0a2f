// Package diag emits device diagnostics onto the events topic so the
// fleet can observe reconnects, suspensions, and sensor readiness
// without scraping logs.
//
// Delivery is strictly best effort. A diagnostic that cannot reach the
// broker is dropped after being journaled locally; it never blocks,
// never retries, and never feeds back into connectivity decisions. The
// wire format is stable: dashboards parse these payloads.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nugget/stead/internal/events"
	"github.com/nugget/stead/internal/journal"
	"github.com/nugget/stead/internal/metrics"
)

// Reasons for a session_suspended diagnostic.
const (
	ReasonLinkLoss = "link_loss"
)

// Diagnostic event names as they appear on the wire.
const (
	EventReconnected       = "mqtt_reconnected"
	EventSessionSuspended  = "session_suspended"
	EventSensorWaitingData = "sensor_waiting_for_data"
)

// Sender is the slice of the broker driver diagnostics go through.
type Sender interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Publisher formats and offers diagnostic events. All fields may be
// left nil except the topic; a Publisher with a nil sender journals
// and drops.
type Publisher struct {
	topic   string
	sender  Sender
	journal journal.Journal
	bus     *events.Bus
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Config wires a Publisher.
type Config struct {
	// Topic is the events topic diagnostics publish to.
	Topic string
	// Sender delivers payloads to the broker. Nil means journal-only.
	Sender Sender
	// Journal records every diagnostic locally. Nil means no journal.
	Journal journal.Journal
	// Bus mirrors diagnostics to bus subscribers.
	Bus *events.Bus
	// Metrics counts offered and delivered diagnostics.
	Metrics metrics.Recorder
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New builds a Publisher.
func New(cfg Config) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Noop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopRecorder{}
	}
	return &Publisher{
		topic:   cfg.Topic,
		sender:  cfg.Sender,
		journal: cfg.Journal,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

type reconnectedPayload struct {
	Event    string `json:"event"`
	Attempts int    `json:"attempts"`
}

type suspendedPayload struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

type waitingPayload struct {
	Event string `json:"event"`
}

// Reconnected reports that the session came back after attempts tries.
func (p *Publisher) Reconnected(ctx context.Context, attempts int) {
	payload, _ := json.Marshal(reconnectedPayload{
		Event:    EventReconnected,
		Attempts: attempts,
	})
	delivered := p.offer(ctx, EventReconnected, payload)

	e := journal.New(journal.SeverityInfo, journal.KindDiagnostic, EventReconnected)
	e.Attempts = attempts
	p.journal.Append(e)

	p.publishBus(EventReconnected, delivered, map[string]any{"attempts": attempts})
}

// Suspended reports that session recovery is parked, usually because
// the link itself is gone.
func (p *Publisher) Suspended(ctx context.Context, reason string) {
	payload, _ := json.Marshal(suspendedPayload{
		Event:  EventSessionSuspended,
		Reason: reason,
	})
	delivered := p.offer(ctx, EventSessionSuspended, payload)

	e := journal.New(journal.SeverityWarning, journal.KindDiagnostic, EventSessionSuspended)
	e.Err = reason
	p.journal.Append(e)

	p.publishBus(EventSessionSuspended, delivered, map[string]any{"reason": reason})
}

// SensorWaiting reports that publishing is up but the sensor has not
// produced its first reading yet.
func (p *Publisher) SensorWaiting(ctx context.Context) {
	payload, _ := json.Marshal(waitingPayload{Event: EventSensorWaitingData})
	delivered := p.offer(ctx, EventSensorWaitingData, payload)

	p.journal.Append(journal.New(journal.SeverityInfo, journal.KindDiagnostic, EventSensorWaitingData))
	p.publishBus(EventSensorWaitingData, delivered, nil)
}

// offer pushes a payload at the broker and reports whether it landed.
func (p *Publisher) offer(ctx context.Context, event string, payload []byte) bool {
	if p.sender == nil {
		p.metrics.IncDiagnostic(event, false)
		return false
	}

	if err := p.sender.Publish(ctx, p.topic, payload); err != nil {
		p.logger.Debug("diagnostic dropped", "event", event, "error", err)
		p.metrics.IncDiagnostic(event, false)
		return false
	}

	p.logger.Debug("diagnostic published", "event", event, "topic", p.topic)
	p.metrics.IncDiagnostic(event, true)
	return true
}

func (p *Publisher) publishBus(event string, delivered bool, extra map[string]any) {
	data := map[string]any{
		"event":     event,
		"delivered": delivered,
	}
	for k, v := range extra {
		data[k] = v
	}
	p.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSupervisor,
		Kind:      events.KindDiagnostic,
		Data:      data,
	})
}
