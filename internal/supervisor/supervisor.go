// Package supervisor runs the connectivity control loop: a single
// fixed-cadence tick that drives the network link, the broker session
// layered on it, the status LED, and the sample publish path.
//
// One goroutine owns all state. Each tick evaluates the link first,
// then the session (only while the link is up), then recomputes the
// LED signal, and finally publishes a sample if one is due. Session
// logic is inert rather than erroring whenever the link is down, so
// the operator-facing signal always names the layer that is actually
// broken.
//
// Driver calls that can take seconds (joins, session opens) run off
// the tick goroutine with their own timeouts; the loop polls for their
// outcomes, so a tick never waits on the network. A single publish
// call is the only driver operation the tick performs inline, bounded
// by its own timeout.
//
// The machines have no terminal failure state. Every failure path
// loops back to a retry state, because the device is useless without
// connectivity and the only acceptable long-term behavior is to keep
// trying.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nugget/stead/internal/broker"
	"github.com/nugget/stead/internal/diag"
	"github.com/nugget/stead/internal/events"
	"github.com/nugget/stead/internal/journal"
	"github.com/nugget/stead/internal/metrics"
	"github.com/nugget/stead/internal/netlink"
	"github.com/nugget/stead/internal/profile"
	"github.com/nugget/stead/internal/sensor"
	"github.com/nugget/stead/internal/statusled"
)

// Default timings, used when the corresponding Config field is zero.
const (
	DefaultTick                 = time.Second
	DefaultBootSignal           = 5 * time.Second
	DefaultStartupJoinTimeout   = 15 * time.Second
	DefaultJoinTimeout          = 10 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultPublishTimeout       = 10 * time.Second
	DefaultSessionRetryInterval = 5 * time.Second
	DefaultSampleInterval       = 60 * time.Second
)

// Config wires a Supervisor. Link, Session, and Sensor are required;
// everything else has a usable default.
type Config struct {
	// Link joins and monitors the wireless network.
	Link netlink.Driver
	// Session opens and publishes on the broker connection.
	Session broker.Driver
	// Sensor produces readings for the publish path.
	Sensor sensor.Source

	// Profiles is the startup scan list in priority order.
	Profiles []profile.Profile
	// Memory holds the last profile that joined successfully. Nil gets
	// a fresh empty memory.
	Memory *profile.Memory

	// Endpoint is the broker address session opens target.
	Endpoint string
	// ClientID identifies this device to the broker.
	ClientID string
	// SampleTopic carries sensor sample payloads.
	SampleTopic string

	// Diag emits best-effort diagnostic events. Nil gets a
	// journal-only publisher.
	Diag *diag.Publisher
	// LED renders the status signal. Nil disables rendering.
	LED *statusled.Runner
	// Journal records lifecycle and fault events.
	Journal journal.Journal
	// Bus mirrors state transitions to subscribers.
	Bus *events.Bus
	// Metrics records counters and gauges.
	Metrics metrics.Recorder
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnSessionUp runs on its own goroutine each time the session
	// reaches Connected. Used for discovery announcements.
	OnSessionUp func()

	// Tick is the loop cadence.
	Tick time.Duration
	// BootSignal holds the LED solid for this long after start.
	BootSignal time.Duration
	// StartupJoinTimeout bounds each startup scan join attempt.
	StartupJoinTimeout time.Duration
	// JoinTimeout bounds each reconnect join attempt.
	JoinTimeout time.Duration
	// ConnectTimeout bounds each session open attempt.
	ConnectTimeout time.Duration
	// PublishTimeout bounds a single publish call.
	PublishTimeout time.Duration
	// SessionRetryInterval is the fixed delay between failed session
	// attempts.
	SessionRetryInterval time.Duration
	// SampleInterval is the publish cadence.
	SampleInterval time.Duration
}

// Supervisor owns the combined connectivity state tuple. All fields
// are guarded by mu; Tick holds it for the whole pass and Snapshot
// copies under it.
type Supervisor struct {
	link    netlink.Driver
	session broker.Driver
	sensor  sensor.Source

	memory  *profile.Memory
	diag    *diag.Publisher
	led     *statusled.Runner
	journal journal.Journal
	bus     *events.Bus
	metrics metrics.Recorder
	logger  *slog.Logger

	onSessionUp func()

	cfg Config

	mu sync.Mutex

	linkState    LinkState
	sessionState SessionState

	linkAttempts    int
	sessionAttempts int

	profiles   []profile.Profile
	scanIdx    int
	linkTarget profile.Profile

	linkAttempt    *attempt
	sessionAttempt *attempt

	bootUntil      time.Time
	sessionRetryAt time.Time
	nextSampleAt   time.Time

	sensorFault  bool
	runtimeFault bool

	firstSampleDone   bool
	sensorWaitingSent bool

	signal statusled.Signal

	lastReading   sensor.Reading
	haveReading   bool
	lastPublishAt time.Time
}

// New builds a Supervisor. It does not start the loop; call Start or
// drive Tick directly.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Noop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopRecorder{}
	}
	if cfg.Memory == nil {
		cfg.Memory = profile.NewMemory(nil)
	}
	if cfg.Diag == nil {
		cfg.Diag = diag.New(diag.Config{Journal: cfg.Journal, Logger: cfg.Logger})
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.BootSignal == 0 {
		cfg.BootSignal = DefaultBootSignal
	}
	if cfg.StartupJoinTimeout <= 0 {
		cfg.StartupJoinTimeout = DefaultStartupJoinTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.SessionRetryInterval <= 0 {
		cfg.SessionRetryInterval = DefaultSessionRetryInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}

	return &Supervisor{
		link:           cfg.Link,
		session:        cfg.Session,
		sensor:         cfg.Sensor,
		memory:         cfg.Memory,
		diag:           cfg.Diag,
		led:            cfg.LED,
		journal:        cfg.Journal,
		bus:            cfg.Bus,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		onSessionUp:    cfg.OnSessionUp,
		cfg:            cfg,
		profiles:       slices.Clone(cfg.Profiles),
		linkAttempt:    newAttempt(),
		sessionAttempt: newAttempt(),
	}
}

// Start runs the loop until ctx is cancelled. The first tick runs
// immediately.
func (s *Supervisor) Start(ctx context.Context) {
	s.logger.Info("supervisor started",
		"tick", s.cfg.Tick,
		"profiles", len(s.profiles),
		"endpoint", s.cfg.Endpoint,
	)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick runs one pass of the control loop: link first, session second
// (only while the link is up), then the status signal, then the
// sample path. now is a parameter so tests can drive time. A tick
// always completes; an unclassified fault is caught at this boundary
// and latched into the runtime fault flag.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) {
	wallStart := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		s.metrics.ObserveTickDuration(time.Since(wallStart))
	}()
	defer func() {
		if r := recover(); r != nil {
			s.latchRuntimeFault(r)
		}
	}()

	if s.bootUntil.IsZero() {
		s.bootUntil = now.Add(s.cfg.BootSignal)
	}

	s.tickLink(ctx)
	s.tickSession(ctx, now)
	s.refreshSignal(now)
	if s.sessionState == SessionConnected {
		s.tickSample(ctx, now)
	}
}

// Snapshot returns a copy of the current state for status reporting.
// Safe to call from any goroutine.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Link:            s.linkState.String(),
		Session:         s.sessionState.String(),
		Signal:          s.signal.String(),
		LinkAttempts:    s.linkAttempts,
		SessionAttempts: s.sessionAttempts,
		SensorFault:     s.sensorFault,
		RuntimeFault:    s.runtimeFault,
		LastPublishAt:   s.lastPublishAt,
	}
	if p, ok := s.memory.Recall(); ok {
		snap.RememberedSSID = p.SSID
	}
	if s.haveReading {
		r := s.lastReading
		snap.LastReading = &r
	}
	return snap
}

// Reconfigure replaces the configured profile list, used on config
// reload. A running startup scan restarts from the top of the new
// list. If the remembered profile is gone from the new list it is
// forgotten, so reconnection cannot chase a removed network; if its
// secret changed, the remembered copy is refreshed.
func (s *Supervisor) Reconfigure(profiles []profile.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = slices.Clone(profiles)
	s.scanIdx = 0
	if s.linkState == LinkConnecting {
		s.linkAttempt.abandon()
	}

	remembered, ok := s.memory.Recall()
	if ok {
		idx := slices.IndexFunc(s.profiles, func(p profile.Profile) bool {
			return p.SSID == remembered.SSID
		})
		switch {
		case idx < 0:
			s.memory.Forget()
			s.logger.Info("remembered network removed from configuration", "ssid", remembered.SSID)
		case s.profiles[idx].Secret != remembered.Secret:
			s.memory.Remember(s.profiles[idx])
			s.logger.Info("remembered network credentials updated", "ssid", remembered.SSID)
		}
	}

	s.logger.Info("network profiles reconfigured", "profiles", len(s.profiles))
}

// latchRuntimeFault records a panic caught at the tick boundary. The
// flag stays set until restart; the journal entry is written once per
// latch, not once per tick.
func (s *Supervisor) latchRuntimeFault(r any) {
	if s.runtimeFault {
		return
	}
	s.runtimeFault = true
	s.metrics.SetFault("runtime", true)
	s.logger.Error("runtime fault in control loop", "panic", r)

	e := journal.New(journal.SeverityError, journal.KindRuntimeFault, "runtime fault in control loop")
	e.Err = fmt.Sprint(r)
	s.journal.Append(e)

	s.publishEvent(events.SourceSupervisor, events.KindFault, map[string]any{
		"layer":  "runtime",
		"active": true,
		"error":  fmt.Sprint(r),
	})
}

// refreshSignal re-derives the LED signal from the combined state and
// hands it to the runner. The encoding is pure, so this is cheap to do
// every tick.
func (s *Supervisor) refreshSignal(now time.Time) {
	sig := statusled.Encode(statusled.View{
		Boot:         now.Before(s.bootUntil),
		LinkOK:       s.linkState == LinkConnected,
		SessionOK:    s.sessionState == SessionConnected,
		SensorFault:  s.sensorFault,
		RuntimeFault: s.runtimeFault,
	})
	if sig != s.signal {
		s.signal = sig
		p := sig.Pattern()
		s.publishEvent(events.SourceSupervisor, events.KindStatusSignal, map[string]any{
			"signal":         sig.String(),
			"pulse_count":    p.Pulses,
			"pulse_width_ms": p.On.Milliseconds(),
			"gap_width_ms":   p.Off.Milliseconds(),
			"cadence_ms":     p.Rest.Milliseconds(),
		})
	}
	if s.led != nil {
		s.led.Set(sig)
	}
}

// setLink records a link state transition.
func (s *Supervisor) setLink(st LinkState, ssid string) {
	if st == s.linkState {
		return
	}
	s.linkState = st
	s.metrics.SetLinkState(st.String())

	data := map[string]any{
		"state":    st.String(),
		"attempts": s.linkAttempts,
	}
	if ssid != "" {
		data["profile"] = ssid
	}
	s.publishEvent(events.SourceSupervisor, events.KindLinkState, data)
}

// setSession records a session state transition.
func (s *Supervisor) setSession(st SessionState, reason string) {
	if st == s.sessionState {
		return
	}
	s.sessionState = st
	s.metrics.SetSessionState(st.String())

	data := map[string]any{
		"state":    st.String(),
		"attempts": s.sessionAttempts,
	}
	if reason != "" {
		data["reason"] = reason
	}
	s.publishEvent(events.SourceSupervisor, events.KindSessionState, data)
}

func (s *Supervisor) publishEvent(source, kind string, data map[string]any) {
	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}
