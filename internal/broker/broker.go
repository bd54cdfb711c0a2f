// Package broker provides pub/sub session drivers for shipping sensor
// readings off the device. The MQTT driver speaks to a conventional
// broker; the NATS driver targets deployments that already run a NATS
// fabric.
//
// Drivers hold exactly one session and never reconnect on their own.
// The supervisor owns retry policy: a driver's job is to open when
// told, publish while the session holds, report an error the moment it
// does not, and tear down cleanly.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoSession is returned by Publish when no session is open.
var ErrNoSession = errors.New("broker: no session open")

// Driver is the interface the supervisor drives the session through.
type Driver interface {
	// Open establishes a session with the broker at endpoint. Any
	// prior session is torn down first. Blocks until the broker
	// acknowledges or ctx expires.
	Open(ctx context.Context, endpoint, clientID string) error

	// Publish delivers payload to topic within the open session and
	// returns an error if the broker did not take it.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Alive reports whether the session is still believed healthy.
	// A false result means the next Open is required before
	// publishing can succeed.
	Alive() bool

	// Close tears down the session. Safe to call when closed.
	Close() error
}

// Config carries session parameters shared by all drivers.
type Config struct {
	// Kind selects the driver: "mqtt" or "nats".
	Kind string

	// QoS is the MQTT quality of service for publishes (0, 1 or 2).
	QoS byte

	// KeepAlive is the MQTT keep-alive interval. Zero means 30s.
	KeepAlive time.Duration

	// Username and Password authenticate against the broker when set.
	Username string
	Password string

	// AvailabilityTopic, when set, carries a retained "online" birth
	// message after each connect and an "offline" will message the
	// broker publishes if the session dies without a clean close.
	AvailabilityTopic string

	// PublishTimeout bounds a publish round trip when the caller's
	// context has no deadline of its own. Zero means 5s.
	PublishTimeout time.Duration

	// Logger receives session activity. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) keepAlive() time.Duration {
	if c.KeepAlive <= 0 {
		return 30 * time.Second
	}
	return c.KeepAlive
}

func (c Config) publishTimeout() time.Duration {
	if c.PublishTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PublishTimeout
}

// New builds the Driver selected by cfg.Kind.
func New(cfg Config) (Driver, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch cfg.Kind {
	case "mqtt", "":
		return NewMQTT(cfg), nil
	case "nats":
		return NewNATS(cfg), nil
	default:
		return nil, fmt.Errorf("broker: unknown kind %q", cfg.Kind)
	}
}
