package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS holds one session against a NATS server. MQTT-style topics are
// mapped to subjects (slashes become dots) so the rest of the system
// never needs to know which transport is configured.
type NATS struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
	nc *nats.Conn
}

// NewNATS returns a NATS driver with no session open.
func NewNATS(cfg Config) *NATS {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &NATS{cfg: cfg, logger: cfg.Logger}
}

// Open connects to the NATS server. Automatic reconnection is
// disabled; a lost session stays lost until the supervisor opens a
// new one.
func (n *NATS) Open(ctx context.Context, endpointURL, clientID string) error {
	n.Close()

	dialTimeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(dl)
	}
	if dialTimeout <= 0 {
		return context.DeadlineExceeded
	}

	opts := []nats.Option{
		nats.Name(clientID),
		nats.NoReconnect(),
		nats.Timeout(dialTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("nats session lost", "error", err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			n.logger.Debug("nats session closed")
		}),
	}
	if n.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(n.cfg.Username, n.cfg.Password))
	}

	nc, err := nats.Connect(normalizeNATSEndpoint(endpointURL), opts...)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", endpointURL, err)
	}

	n.mu.Lock()
	n.nc = nc
	n.mu.Unlock()

	n.logger.Info("nats session open",
		"server", nc.ConnectedUrl(),
		"name", clientID,
	)

	if n.cfg.AvailabilityTopic != "" {
		subj := subjectFromTopic(n.cfg.AvailabilityTopic)
		if err := nc.Publish(subj, []byte("online")); err != nil {
			n.logger.Warn("birth message publish failed", "error", err)
		}
	}

	return nil
}

// Publish delivers payload to the subject mapped from topic, then
// flushes so delivery failures surface here instead of silently
// queueing.
func (n *NATS) Publish(ctx context.Context, topic string, payload []byte) error {
	n.mu.Lock()
	nc := n.nc
	n.mu.Unlock()

	if nc == nil {
		return ErrNoSession
	}

	subj := subjectFromTopic(topic)
	if err := nc.Publish(subj, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}

	flushTimeout := n.cfg.publishTimeout()
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < flushTimeout {
			flushTimeout = remaining
		}
	}
	if flushTimeout <= 0 {
		return context.DeadlineExceeded
	}
	if err := nc.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("publish %s: flush: %w", subj, err)
	}
	return nil
}

// Alive reports whether the connection is still up.
func (n *NATS) Alive() bool {
	n.mu.Lock()
	nc := n.nc
	n.mu.Unlock()
	return nc != nil && nc.IsConnected()
}

// Close publishes a final availability message and drops the
// connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	nc := n.nc
	n.nc = nil
	n.mu.Unlock()

	if nc == nil {
		return nil
	}

	if n.cfg.AvailabilityTopic != "" && nc.IsConnected() {
		subj := subjectFromTopic(n.cfg.AvailabilityTopic)
		nc.Publish(subj, []byte("offline"))
		nc.FlushTimeout(time.Second)
	}

	nc.Close()
	return nil
}

// normalizeNATSEndpoint lets broker URLs be written without a scheme.
func normalizeNATSEndpoint(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "nats://" + raw
}

var _ Driver = (*NATS)(nil)
