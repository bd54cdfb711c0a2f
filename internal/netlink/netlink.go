// Package netlink manages the device's attachment to the local
// network. A Driver joins a named network, reports whether the
// attachment still carries traffic, and detaches on request.
//
// Drivers never retry on their own. Retry policy, timeouts beyond the
// caller's context, and which network to target all belong to the
// supervisor; a driver does one attempt and reports what happened.
package netlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/stead/internal/profile"
)

// ErrNoProfile is returned by Join when the profile has no network name.
var ErrNoProfile = errors.New("netlink: join requires a network profile")

// Driver is the interface the supervisor drives the link through.
type Driver interface {
	// Join attaches to the given network. It blocks until the
	// attachment is confirmed or ctx expires, and returns an error
	// describing the failure otherwise.
	Join(ctx context.Context, p profile.Profile) error

	// Alive reports whether the current attachment is still usable.
	// It must return promptly; implementations bound their own checks.
	Alive(ctx context.Context) bool

	// Disconnect detaches from the current network. Best effort.
	Disconnect(ctx context.Context) error
}

// Config selects and configures a link driver.
type Config struct {
	// Driver selects the implementation: "nmcli" or "static".
	Driver string

	// Interface is the wireless device name for the nmcli driver.
	Interface string

	// ProbeURL, when set, wraps the driver so that liveness also
	// requires an HTTP endpoint to answer. An association that no
	// longer forwards packets then counts as down.
	ProbeURL string

	// ProbeInsecureTLS skips certificate verification on the probe.
	ProbeInsecureTLS bool

	// ProbeInterval is how often the reachability probe re-runs.
	// Zero means DefaultProbeInterval.
	ProbeInterval time.Duration

	// Logger receives driver activity. Defaults to slog.Default().
	Logger *slog.Logger
}

// New builds the Driver described by cfg.
func New(cfg Config) (Driver, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var d Driver
	switch cfg.Driver {
	case "nmcli":
		if cfg.Interface == "" {
			return nil, errors.New("netlink: nmcli driver requires an interface name")
		}
		d = NewNMCLI(cfg.Interface, cfg.Logger)
	case "static", "":
		d = NewStatic(cfg.Logger)
	default:
		return nil, fmt.Errorf("netlink: unknown driver %q", cfg.Driver)
	}

	if cfg.ProbeURL != "" {
		probe := NewProbe(cfg.ProbeURL, cfg.ProbeInsecureTLS, cfg.Logger)
		d = WithProbe(d, probe, cfg.ProbeInterval, cfg.Logger)
	}

	return d, nil
}
