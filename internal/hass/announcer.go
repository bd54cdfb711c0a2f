package hass

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Sender is the slice of the broker session discovery goes through.
type Sender interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// RetainedSender is implemented by drivers whose transport can retain
// the last message per topic. Discovery configs prefer retained
// delivery so HA sees them after its own restarts; without it the
// announce still works but only for a broker-connected HA.
type RetainedSender interface {
	PublishRetained(ctx context.Context, topic string, payload []byte) error
}

// Config wires an Announcer.
type Config struct {
	// DiscoveryPrefix is the HA discovery topic prefix. Empty means
	// "homeassistant".
	DiscoveryPrefix string
	// DeviceName is the node identifier in discovery topics and the
	// display name in HA.
	DeviceName string
	// InstanceID is the stable device identifier, from
	// LoadOrCreateInstanceID.
	InstanceID string
	// SampleTopic is where readings are published. All three entities
	// parse their value out of its JSON payload.
	SampleTopic string
	// AvailabilityTopic marks the entities unavailable when the device
	// drops. Optional.
	AvailabilityTopic string
	// Sender delivers the discovery payloads.
	Sender Sender
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Announcer publishes HA MQTT discovery configs for the device's
// sensors.
type Announcer struct {
	cfg    Config
	device DeviceInfo
	logger *slog.Logger
}

// NewAnnouncer builds an Announcer.
func NewAnnouncer(cfg Config) *Announcer {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Announcer{
		cfg:    cfg,
		device: NewDeviceInfo(cfg.InstanceID, cfg.DeviceName),
		logger: cfg.Logger,
	}
}

type sensorDef struct {
	slug   string
	config SensorConfig
}

func (a *Announcer) sensorDefinitions() []sensorDef {
	return []sensorDef{
		{
			slug: "co2",
			config: SensorConfig{
				Name:              a.cfg.DeviceName + " CO2",
				UniqueID:          a.cfg.InstanceID + "_co2",
				StateTopic:        a.cfg.SampleTopic,
				AvailabilityTopic: a.cfg.AvailabilityTopic,
				ValueTemplate:     "{{ value_json.co2 }}",
				Device:            a.device,
				DeviceClass:       "carbon_dioxide",
				UnitOfMeasurement: "ppm",
				StateClass:        "measurement",
			},
		},
		{
			slug: "temperature",
			config: SensorConfig{
				Name:              a.cfg.DeviceName + " Temperature",
				UniqueID:          a.cfg.InstanceID + "_temperature",
				StateTopic:        a.cfg.SampleTopic,
				AvailabilityTopic: a.cfg.AvailabilityTopic,
				ValueTemplate:     "{{ value_json.temp }}",
				Device:            a.device,
				DeviceClass:       "temperature",
				UnitOfMeasurement: "°C",
				StateClass:        "measurement",
			},
		},
		{
			slug: "humidity",
			config: SensorConfig{
				Name:              a.cfg.DeviceName + " Humidity",
				UniqueID:          a.cfg.InstanceID + "_humidity",
				StateTopic:        a.cfg.SampleTopic,
				AvailabilityTopic: a.cfg.AvailabilityTopic,
				ValueTemplate:     "{{ value_json.rh }}",
				Device:            a.device,
				DeviceClass:       "humidity",
				UnitOfMeasurement: "%",
				StateClass:        "measurement",
			},
		},
	}
}

func (a *Announcer) discoveryTopic(slug string) string {
	return a.cfg.DiscoveryPrefix + "/sensor/" + a.cfg.DeviceName + "/" + slug + "/config"
}

// Announce publishes the discovery configs. Failures are logged and
// skipped; announcing runs again on the next session connect.
func (a *Announcer) Announce(ctx context.Context) {
	for _, s := range a.sensorDefinitions() {
		topic := a.discoveryTopic(s.slug)
		payload, err := json.Marshal(s.config)
		if err != nil {
			a.logger.Error("marshal discovery payload", "entity", s.slug, "error", err)
			continue
		}

		if err := a.publish(ctx, topic, payload); err != nil {
			a.logger.Warn("discovery publish failed",
				"entity", s.slug, "topic", topic, "error", err)
			continue
		}
		a.logger.Debug("discovery published", "entity", s.slug, "topic", topic)
	}
}

func (a *Announcer) publish(ctx context.Context, topic string, payload []byte) error {
	if rs, ok := a.cfg.Sender.(RetainedSender); ok {
		return rs.PublishRetained(ctx, topic, payload)
	}
	return a.cfg.Sender.Publish(ctx, topic, payload)
}
