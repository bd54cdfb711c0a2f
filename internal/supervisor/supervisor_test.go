package supervisor

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/stead/internal/diag"
	"github.com/nugget/stead/internal/journal"
	"github.com/nugget/stead/internal/profile"
	"github.com/nugget/stead/internal/sensor"
	"github.com/nugget/stead/internal/statusled"
)

// fakeLink is a scripted link driver. results is consumed one error
// per Join call (empty means success); joinErr, when set, overrides
// the queue and fails every join.
type fakeLink struct {
	mu      sync.Mutex
	results []error
	joinErr error
	joins   []string
	alive   bool
}

func (f *fakeLink) Join(ctx context.Context, p profile.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, p.SSID)
	if f.joinErr != nil {
		return f.joinErr
	}
	if len(f.results) > 0 {
		err := f.results[0]
		f.results = f.results[1:]
		if err != nil {
			return err
		}
	}
	f.alive = true
	return nil
}

func (f *fakeLink) Alive(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeLink) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

func (f *fakeLink) setAlive(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = v
}

func (f *fakeLink) setJoinErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

func (f *fakeLink) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.joins)
}

type pubCall struct {
	topic   string
	payload string
}

// fakeBroker is a scripted session driver. openResults is consumed
// one error per Open call; openGate, when set, blocks Open until the
// test sends an outcome.
type fakeBroker struct {
	mu          sync.Mutex
	openResults []error
	openGate    chan error
	opens       int
	alive       bool
	pubErrs     []error
	published   []pubCall
}

func (f *fakeBroker) Open(ctx context.Context, endpoint, clientID string) error {
	f.mu.Lock()
	f.opens++
	gate := f.openGate
	var err error
	if gate == nil && len(f.openResults) > 0 {
		err = f.openResults[0]
		f.openResults = f.openResults[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		err = <-gate
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.alive = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pubErrs) > 0 {
		err := f.pubErrs[0]
		f.pubErrs = f.pubErrs[1:]
		if err != nil {
			return err
		}
	}
	f.published = append(f.published, pubCall{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeBroker) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

func (f *fakeBroker) setAlive(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = v
}

func (f *fakeBroker) setOpenGate(gate chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openGate = gate
}

func (f *fakeBroker) failNextPublish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubErrs = append(f.pubErrs, err)
}

func (f *fakeBroker) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeBroker) pubs() []pubCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.published)
}

// fakeSensor returns one fixed reading or error until told otherwise.
type fakeSensor struct {
	mu      sync.Mutex
	reading sensor.Reading
	err     error
	panics  bool
}

func (f *fakeSensor) Read(ctx context.Context) (sensor.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("sensor driver bug")
	}
	return f.reading, f.err
}

func (f *fakeSensor) set(r sensor.Reading, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading, f.err = r, err
}

func (f *fakeSensor) setPanics(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics = v
}

// memJournal collects events in memory for assertions.
type memJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (j *memJournal) Append(e journal.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *memJournal) count(k journal.Kind) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// fakeSender records diagnostic payloads handed to the events topic.
type fakeSender struct {
	mu       sync.Mutex
	payloads []string
}

func (f *fakeSender) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, string(payload))
	return nil
}

func (f *fakeSender) withEvent(event string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.payloads {
		if strings.Contains(p, `"event":"`+event+`"`) {
			out = append(out, p)
		}
	}
	return out
}

// harness wires a supervisor to scripted drivers and drives its clock
// one second per tick.
type harness struct {
	sup    *Supervisor
	link   *fakeLink
	broker *fakeBroker
	sensor *fakeSensor
	jrnl   *memJournal
	sender *fakeSender
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		link:   &fakeLink{},
		broker: &fakeBroker{},
		sensor: &fakeSensor{reading: sensor.Reading{CO2: 600, Temp: 22, RH: 45}},
		jrnl:   &memJournal{},
		sender: &fakeSender{},
		now:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	h.sup = New(Config{
		Link:    h.link,
		Session: h.broker,
		Sensor:  h.sensor,
		Profiles: []profile.Profile{
			{SSID: "home", Secret: "p1"},
			{SSID: "guest", Secret: "p2"},
		},
		Endpoint:    "tcp://broker.local:1883",
		ClientID:    "stead-test",
		SampleTopic: "sensors/scd40",
		Journal:     h.jrnl,
		Diag: diag.New(diag.Config{
			Topic:  "sensors/scd40/events",
			Sender: h.sender,
		}),
		BootSignal: time.Nanosecond,
	})
	return h
}

// tick runs one control pass and advances the clock one second.
func (h *harness) tick() {
	h.sup.Tick(context.Background(), h.now)
	h.now = h.now.Add(time.Second)
}

// pump ticks until cond holds, failing the test if it never does.
func (h *harness) pump(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.tick()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartupScanJoinsSecondProfile(t *testing.T) {
	h := newHarness(t)
	h.link.results = []error{errors.New("wrong password")}

	h.pump(t, "link connected", func() bool { return h.sup.linkState == LinkConnected })

	if got := h.link.joined(); !slices.Equal(got, []string{"home", "guest"}) {
		t.Errorf("join order = %v, want [home guest]", got)
	}
	p, ok := h.sup.memory.Recall()
	if !ok || p.SSID != "guest" || p.Secret != "p2" {
		t.Errorf("remembered = %+v ok=%v, want guest/p2", p, ok)
	}
	if h.sup.linkAttempts != 0 {
		t.Errorf("link attempts after success = %d, want 0", h.sup.linkAttempts)
	}
	if n := h.jrnl.count(journal.KindStartupConfig); n != 0 {
		t.Errorf("startup config errors = %d, want 0", n)
	}
}

func TestStartupExhaustionRescansFromTop(t *testing.T) {
	h := newHarness(t)
	down := errors.New("no ap found")
	h.link.results = []error{down, down, down}

	h.pump(t, "startup exhaustion", func() bool {
		return h.jrnl.count(journal.KindStartupConfig) == 1
	})
	if n := h.broker.openCount(); n != 0 {
		t.Errorf("session opens during failed startup scan = %d, want 0", n)
	}

	h.pump(t, "link connected", func() bool { return h.sup.linkState == LinkConnected })
	want := []string{"home", "guest", "home", "guest"}
	if got := h.link.joined(); !slices.Equal(got, want) {
		t.Errorf("join order = %v, want %v", got, want)
	}
}

func TestLinkLossSuspendsSessionInOneTick(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })
	pubsBefore := len(h.broker.pubs())

	h.link.setAlive(false)
	h.tick()

	if h.sup.linkState != LinkReconnecting {
		t.Errorf("link = %v after probe loss, want reconnecting", h.sup.linkState)
	}
	if h.sup.sessionState != SessionSuspended {
		t.Errorf("session = %v after probe loss, want suspended", h.sup.sessionState)
	}
	if n := h.jrnl.count(journal.KindSessionSuspended); n != 1 {
		t.Errorf("suspended journal entries = %d, want 1", n)
	}
	got := h.sender.withEvent(diag.EventSessionSuspended)
	if len(got) != 1 || got[0] != `{"event":"session_suspended","reason":"link_loss"}` {
		t.Errorf("suspended diagnostics = %v", got)
	}
	if n := len(h.broker.pubs()); n != pubsBefore {
		t.Errorf("publishes after link loss = %d, want %d", n, pubsBefore)
	}
}

func TestLongOutageSuspendsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })

	h.link.setJoinErr(errors.New("still down"))
	h.link.setAlive(false)
	opensBefore := h.broker.openCount()
	for range 5 {
		h.tick()
	}

	if h.sup.sessionState != SessionSuspended {
		t.Fatalf("session = %v during outage, want suspended", h.sup.sessionState)
	}
	if n := h.jrnl.count(journal.KindSessionSuspended); n != 1 {
		t.Errorf("suspended journal entries = %d, want 1", n)
	}
	if n := len(h.sender.withEvent(diag.EventSessionSuspended)); n != 1 {
		t.Errorf("suspended diagnostics = %d, want 1", n)
	}
	if n := h.broker.openCount(); n != opensBefore {
		t.Errorf("session opens while suspended = %d, want 0", n-opensBefore)
	}
}

func TestReconnectTargetsRememberedProfileOnly(t *testing.T) {
	h := newHarness(t)
	h.link.results = []error{errors.New("wrong password")}
	h.pump(t, "link connected", func() bool { return h.sup.linkState == LinkConnected })

	h.link.setAlive(false)
	h.link.setJoinErr(errors.New("out of range"))
	h.pump(t, "several reconnect attempts", func() bool { return len(h.link.joined()) >= 5 })

	for i, ssid := range h.link.joined()[2:] {
		if ssid != "guest" {
			t.Errorf("reconnect attempt %d targeted %q, want guest", i+1, ssid)
		}
	}

	h.link.setJoinErr(nil)
	h.pump(t, "link restored", func() bool { return h.sup.linkState == LinkConnected })

	joins := h.link.joined()
	if joins[len(joins)-1] != "guest" {
		t.Errorf("final join = %q, want guest", joins[len(joins)-1])
	}
	if n := h.jrnl.count(journal.KindLinkLoss); n != 1 {
		t.Errorf("link loss entries = %d, want 1", n)
	}
	if h.sup.linkAttempts != 0 {
		t.Errorf("link attempts after restore = %d, want 0", h.sup.linkAttempts)
	}
}

func TestCleanResumeEmitsNoReconnectDiagnostic(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })

	h.link.setAlive(false)
	h.tick()
	if h.sup.sessionState != SessionSuspended {
		t.Fatalf("session = %v, want suspended", h.sup.sessionState)
	}

	h.pump(t, "session resumed", func() bool { return h.sup.sessionState == SessionConnected })

	if n := len(h.sender.withEvent(diag.EventReconnected)); n != 0 {
		t.Errorf("mqtt_reconnected emitted on clean resume, want none")
	}
	if n := h.jrnl.count(journal.KindSessionUp); n != 2 {
		t.Errorf("session up entries = %d, want 2", n)
	}
}

func TestReconnectDiagnosticCarriesAttemptCount(t *testing.T) {
	h := newHarness(t)
	refused := errors.New("connection refused")
	h.broker.openResults = []error{refused, refused, refused, refused}

	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })

	got := h.sender.withEvent(diag.EventReconnected)
	if len(got) != 1 {
		t.Fatalf("mqtt_reconnected count = %d, want 1", len(got))
	}
	if want := `{"event":"mqtt_reconnected","attempts":5}`; got[0] != want {
		t.Errorf("payload = %s, want %s", got[0], want)
	}
	if h.sup.sessionAttempts != 0 {
		t.Errorf("session attempts after success = %d, want 0", h.sup.sessionAttempts)
	}
	if n := h.jrnl.count(journal.KindSessionConnect); n != 4 {
		t.Errorf("connect failure entries = %d, want 4", n)
	}
}

func TestFirstSessionConnectEmitsNoDiagnostic(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })

	if n := len(h.sender.withEvent(diag.EventReconnected)); n != 0 {
		t.Errorf("mqtt_reconnected emitted on first connect, want none")
	}
}

func TestSamplePayloadOnTheWire(t *testing.T) {
	h := newHarness(t)
	h.sensor.set(sensor.Reading{CO2: 412, Temp: 23.449, RH: 55.321}, nil)

	h.pump(t, "first publish", func() bool { return len(h.broker.pubs()) >= 1 })

	pub := h.broker.pubs()[0]
	if pub.topic != "sensors/scd40" {
		t.Errorf("topic = %q, want sensors/scd40", pub.topic)
	}
	if want := `{"co2":412,"temp":23.45,"rh":55.32}`; pub.payload != want {
		t.Errorf("payload = %s, want %s", pub.payload, want)
	}
}

func TestSampleCadence(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "first publish", func() bool { return len(h.broker.pubs()) >= 1 })
	first := h.sup.lastPublishAt

	h.pump(t, "second publish", func() bool { return len(h.broker.pubs()) >= 2 })

	if d := h.sup.lastPublishAt.Sub(first); d != 60*time.Second {
		t.Errorf("publish gap = %v, want 60s", d)
	}
}

func TestSensorWarmupEmitsSingleWaitingDiagnostic(t *testing.T) {
	h := newHarness(t)
	h.sensor.set(sensor.Reading{}, sensor.ErrNotReady)

	h.pump(t, "waiting diagnostic", func() bool {
		return len(h.sender.withEvent(diag.EventSensorWaitingData)) == 1
	})
	for range 5 {
		h.tick()
	}

	if n := len(h.sender.withEvent(diag.EventSensorWaitingData)); n != 1 {
		t.Errorf("waiting diagnostics = %d, want 1", n)
	}
	if len(h.broker.pubs()) != 0 {
		t.Errorf("published %d samples during warmup, want 0", len(h.broker.pubs()))
	}
	if h.sup.sensorFault {
		t.Error("warmup latched the sensor fault flag")
	}

	h.sensor.set(sensor.Reading{CO2: 600, Temp: 22, RH: 45}, nil)
	h.pump(t, "first sample", func() bool { return len(h.broker.pubs()) >= 1 })

	if want := `{"co2":600,"temp":22,"rh":45}`; h.broker.pubs()[0].payload != want {
		t.Errorf("payload = %s, want %s", h.broker.pubs()[0].payload, want)
	}
}

func TestSensorFaultLatchesUntilRecovery(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "first publish", func() bool { return len(h.broker.pubs()) >= 1 })

	h.sensor.set(sensor.Reading{}, errors.New("i2c read failed"))
	h.pump(t, "sensor fault", func() bool { return h.sup.sensorFault })
	for range 5 {
		h.tick()
	}
	if n := h.jrnl.count(journal.KindSensorFault); n != 1 {
		t.Errorf("sensor fault entries = %d, want 1", n)
	}
	if h.sup.signal != statusled.SignalSensorFault {
		t.Errorf("signal = %v during sensor fault, want sensor fault", h.sup.signal)
	}

	h.sensor.set(sensor.Reading{CO2: 700, Temp: 23, RH: 50}, nil)
	h.pump(t, "sensor recovery", func() bool { return !h.sup.sensorFault })
}

func TestPublishFailureReopensSession(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "first publish", func() bool { return len(h.broker.pubs()) >= 1 })

	h.broker.failNextPublish(errors.New("broken pipe"))
	h.pump(t, "publish failure recorded", func() bool {
		return h.jrnl.count(journal.KindSessionPublish) == 1
	})

	h.pump(t, "session restored", func() bool { return h.sup.sessionState == SessionConnected })

	got := h.sender.withEvent(diag.EventReconnected)
	if len(got) != 1 {
		t.Fatalf("mqtt_reconnected count = %d, want 1", len(got))
	}
	if want := `{"event":"mqtt_reconnected","attempts":1}`; got[0] != want {
		t.Errorf("payload = %s, want %s", got[0], want)
	}
}

func TestSessionLivenessLossReopensSession(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })

	h.broker.setAlive(false)
	h.pump(t, "session loss recorded", func() bool {
		return h.jrnl.count(journal.KindSessionLoss) == 1
	})
	h.pump(t, "session restored", func() bool { return h.sup.sessionState == SessionConnected })
}

func TestTickRecoversPanicAndLatchesFault(t *testing.T) {
	h := newHarness(t)
	h.sensor.setPanics(true)

	h.pump(t, "runtime fault", func() bool { return h.sup.runtimeFault })
	for range 3 {
		h.tick()
	}

	if n := h.jrnl.count(journal.KindRuntimeFault); n != 1 {
		t.Errorf("runtime fault entries = %d, want 1", n)
	}
	if h.sup.sessionState != SessionConnected {
		t.Errorf("session = %v after sensor panic, want connected", h.sup.sessionState)
	}
	if h.sup.signal != statusled.SignalRuntimeFault {
		t.Errorf("signal = %v, want runtime fault", h.sup.signal)
	}
}

func TestBootWindowHoldsSignalSolid(t *testing.T) {
	h := newHarness(t)
	h.sup.cfg.BootSignal = 3 * time.Second
	h.link.setJoinErr(errors.New("down"))

	h.tick()
	if h.sup.signal != statusled.SignalBoot {
		t.Errorf("signal during boot = %v, want boot", h.sup.signal)
	}

	h.pump(t, "link down signal", func() bool { return h.sup.signal == statusled.SignalLinkDown })
}

func TestLateOpenResultAfterSuspendIsIgnored(t *testing.T) {
	h := newHarness(t)
	gate := make(chan error, 1)
	h.broker.setOpenGate(gate)

	h.pump(t, "open attempt in flight", func() bool { return h.broker.openCount() == 1 })

	h.link.setAlive(false)
	h.link.setJoinErr(errors.New("down"))
	h.tick()
	if h.sup.sessionState != SessionSuspended {
		t.Fatalf("session = %v, want suspended", h.sup.sessionState)
	}

	gate <- nil
	for range 5 {
		h.tick()
	}
	if h.sup.sessionState != SessionSuspended {
		t.Errorf("session = %v after late open success, want suspended", h.sup.sessionState)
	}
	if n := h.jrnl.count(journal.KindSessionUp); n != 0 {
		t.Errorf("session up entries from a late result = %d, want 0", n)
	}

	h.broker.setOpenGate(nil)
	h.link.setJoinErr(nil)
	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })
	if n := h.jrnl.count(journal.KindSessionUp); n != 1 {
		t.Errorf("session up entries = %d, want 1", n)
	}
}

func TestReconfigureForgetsRemovedNetwork(t *testing.T) {
	h := newHarness(t)
	h.link.results = []error{errors.New("wrong password")}
	h.pump(t, "link connected", func() bool { return h.sup.linkState == LinkConnected })

	h.sup.Reconfigure([]profile.Profile{{SSID: "home", Secret: "p1"}})
	if _, ok := h.sup.memory.Recall(); ok {
		t.Error("remembered profile survived its removal from configuration")
	}

	h.link.setAlive(false)
	before := len(h.link.joined())
	h.pump(t, "rejoin via scan", func() bool { return h.sup.linkState == LinkConnected })

	rejoins := h.link.joined()[before:]
	if len(rejoins) == 0 || rejoins[0] != "home" {
		t.Errorf("rejoin order = %v, want scan starting at home", rejoins)
	}
}

func TestReconfigureRefreshesRememberedSecret(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "link connected", func() bool { return h.sup.linkState == LinkConnected })

	h.sup.Reconfigure([]profile.Profile{
		{SSID: "home", Secret: "rotated"},
		{SSID: "guest", Secret: "p2"},
	})

	p, ok := h.sup.memory.Recall()
	if !ok || p.Secret != "rotated" {
		t.Errorf("remembered = %+v ok=%v, want home with rotated secret", p, ok)
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	h := newHarness(t)
	h.pump(t, "healthy", func() bool { return h.sup.signal == statusled.SignalHealthy })

	snap := h.sup.Snapshot()
	if snap.Link != "connected" || snap.Session != "connected" {
		t.Errorf("snapshot states = %s/%s, want connected/connected", snap.Link, snap.Session)
	}
	if snap.RememberedSSID != "home" {
		t.Errorf("snapshot remembered = %q, want home", snap.RememberedSSID)
	}
	if snap.Signal != "healthy" {
		t.Errorf("snapshot signal = %q, want healthy", snap.Signal)
	}
	if snap.LastReading == nil || snap.LastReading.CO2 != 600 {
		t.Errorf("snapshot last reading = %+v, want co2 600", snap.LastReading)
	}
}

func TestOnSessionUpHookRuns(t *testing.T) {
	h := newHarness(t)
	ch := make(chan struct{})
	var once sync.Once
	h.sup.onSessionUp = func() { once.Do(func() { close(ch) }) }

	h.pump(t, "session connected", func() bool { return h.sup.sessionState == SessionConnected })

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("session up hook never ran")
	}
}

func TestAttemptDisregardsAbandonedResult(t *testing.T) {
	a := newAttempt()
	gate := make(chan error)
	a.begin(5*time.Second, func(ctx context.Context) error { return <-gate })
	a.abandon()
	gate <- errors.New("late failure")

	deadline := time.Now().Add(2 * time.Second)
	for a.busy() && time.Now().Before(deadline) {
		if _, done := a.poll(); done {
			t.Fatal("poll reported an abandoned attempt as done")
		}
		time.Sleep(time.Millisecond)
	}
	if a.busy() {
		t.Fatal("driver slot still busy after the stale result landed")
	}

	a.begin(5*time.Second, func(ctx context.Context) error { return nil })
	for time.Now().Before(deadline) {
		if err, done := a.poll(); done {
			if err != nil {
				t.Fatalf("fresh attempt error = %v, want nil", err)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("fresh attempt never completed")
}

func TestAttemptTimeoutSurfacesAsFailure(t *testing.T) {
	a := newAttempt()
	a.begin(10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err, done := a.poll(); done {
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("timed out attempt error = %v, want deadline exceeded", err)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("attempt never timed out")
}
