// Package discover locates an MQTT broker on the local network over
// mDNS. Deployments that advertise their broker as _mqtt._tcp need no
// broker URL in the config file; the device finds it at startup.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/nugget/stead/internal/events"
)

const (
	// ServiceMQTT is the service type brokers conventionally
	// advertise under.
	ServiceMQTT = "_mqtt._tcp"

	// Domain is the mDNS browse domain.
	Domain = "local"

	// DefaultTimeout bounds one browse when the caller's context has
	// no deadline.
	DefaultTimeout = 10 * time.Second
)

// Config configures a broker browse.
type Config struct {
	// ServiceType overrides the service type. Default ServiceMQTT.
	ServiceType string

	// Interface restricts browsing to one network interface. Empty
	// means all interfaces.
	Interface string

	// Timeout bounds the browse. Default DefaultTimeout.
	Timeout time.Duration

	// Bus receives a broker_found event on success.
	Bus *events.Bus

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Browser finds brokers.
type Browser struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Browser.
func New(cfg Config) *Browser {
	if cfg.ServiceType == "" {
		cfg.ServiceType = ServiceMQTT
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Browser{cfg: cfg, logger: cfg.Logger}
}

// FindBroker browses until a broker turns up and returns its endpoint
// as tcp://host:port. It returns an error when the browse window
// closes empty.
func (b *Browser) FindBroker(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	b.logger.Info("browsing for broker",
		"service", b.cfg.ServiceType,
		"timeout", b.cfg.Timeout,
	)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		_ = zeroconf.Browse(ctx, b.cfg.ServiceType, Domain, entries, removed, b.browseOptions()...)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("discover: browse ended without finding a broker")
			}
			ep, ok := endpointFromEntry(entry)
			if !ok {
				b.logger.Debug("discovered service has no usable address", "instance", entry.Instance)
				continue
			}
			b.logger.Info("broker discovered", "instance", entry.Instance, "endpoint", ep)
			b.cfg.Bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceDiscovery,
				Kind:      events.KindBrokerFound,
				Data: map[string]any{
					"endpoint": ep,
					"instance": entry.Instance,
				},
			})
			return ep, nil

		case <-removed:
			// A disappearing service is irrelevant mid-browse.

		case <-ctx.Done():
			return "", fmt.Errorf("discover: no %s service found: %w", b.cfg.ServiceType, ctx.Err())
		}
	}
}

func (b *Browser) browseOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.cfg.Interface != "" {
		iface, err := net.InterfaceByName(b.cfg.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// endpointFromEntry extracts a dialable endpoint, preferring IPv4,
// then IPv6, then the advertised hostname.
func endpointFromEntry(entry *zeroconf.ServiceEntry) (string, bool) {
	port := entry.Port
	if port == 0 {
		port = 1883
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return "", false
	}

	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port)), true
}
