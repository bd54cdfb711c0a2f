package netlink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/stead/internal/httpkit"
	"github.com/nugget/stead/internal/profile"
)

const (
	// DefaultProbeInterval is how often the reachability probe re-runs
	// while the link claims to be up.
	DefaultProbeInterval = 10 * time.Second

	// probeTimeout bounds one probe request end to end.
	probeTimeout = 3 * time.Second
)

// Probe checks that an HTTP endpoint answers over the current link.
// Keep-alives are disabled so every check dials fresh; a pooled
// connection from before a link loss would defeat the point.
type Probe struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewProbe builds a reachability probe against url.
func NewProbe(url string, insecureTLS bool, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(probeTimeout),
		httpkit.WithDisableKeepAlives(),
	}
	if insecureTLS {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}
	return &Probe{
		url:    url,
		client: httpkit.NewClient(opts...),
		logger: logger,
	}
}

// Check performs one probe request. Any completed response below 400
// counts as reachable; transport failures and error statuses do not.
func (p *Probe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}

	if resp.StatusCode >= 400 {
		body := httpkit.ReadErrorBody(resp.Body, 256)
		return fmt.Errorf("probe %s: status %d: %s", p.url, resp.StatusCode, firstLine(body))
	}

	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// Probed wraps a Driver so that Alive also requires the probe target
// to answer. Probes run in the background on a single-flight basis:
// Alive never blocks on the network, it kicks a probe when the cached
// verdict is stale and reports the last known result.
type Probed struct {
	base     Driver
	probe    *Probe
	interval time.Duration
	logger   *slog.Logger

	ok atomic.Bool

	mu       sync.Mutex
	inFlight bool
	lastRun  time.Time

	now func() time.Time
}

// WithProbe layers probe over base. A zero interval means
// DefaultProbeInterval.
func WithProbe(base Driver, probe *Probe, interval time.Duration, logger *slog.Logger) *Probed {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Probed{
		base:     base,
		probe:    probe,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
	// Optimistic until the first probe lands, so a fresh join is not
	// immediately reported dead.
	p.ok.Store(true)
	return p
}

// Join delegates to the base driver and resets the probe verdict.
func (p *Probed) Join(ctx context.Context, prof profile.Profile) error {
	if err := p.base.Join(ctx, prof); err != nil {
		return err
	}
	p.ok.Store(true)
	p.mu.Lock()
	p.lastRun = time.Time{}
	p.mu.Unlock()
	return nil
}

// Alive reports the base driver's verdict combined with the cached
// probe result, refreshing the probe in the background when stale.
func (p *Probed) Alive(ctx context.Context) bool {
	if !p.base.Alive(ctx) {
		return false
	}
	p.maybeKick()
	return p.ok.Load()
}

// Disconnect delegates to the base driver.
func (p *Probed) Disconnect(ctx context.Context) error {
	return p.base.Disconnect(ctx)
}

// maybeKick starts a background probe when none is running and the
// last result is older than the interval.
func (p *Probed) maybeKick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight || p.now().Sub(p.lastRun) < p.interval {
		return
	}
	p.inFlight = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		err := p.probe.Check(ctx)

		was := p.ok.Load()
		p.ok.Store(err == nil)
		switch {
		case err != nil && was:
			p.logger.Warn("reachability probe failed", "error", err)
		case err == nil && !was:
			p.logger.Info("reachability probe recovered")
		}

		p.mu.Lock()
		p.lastRun = p.now()
		p.inFlight = false
		p.mu.Unlock()
	}()
}

var (
	_ Driver = (*NMCLI)(nil)
	_ Driver = (*Static)(nil)
	_ Driver = (*Probed)(nil)
)
