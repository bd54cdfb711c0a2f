// Package config handles stead configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/stead/internal/profile"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/stead/config.yaml, /etc/stead/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "stead", "config.yaml"))
	}

	paths = append(paths, "/etc/stead/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all stead configuration.
type Config struct {
	DeviceName    string              `yaml:"device_name"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text or json
	Networks      []NetworkConfig     `yaml:"networks"`
	Link          LinkConfig          `yaml:"link"`
	Broker        BrokerConfig        `yaml:"broker"`
	Sensor        SensorConfig        `yaml:"sensor"`
	StatusLED     StatusLEDConfig     `yaml:"status_led"`
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
}

// NetworkConfig names one wireless network the device may join.
// Order in the list is join priority at startup.
type NetworkConfig struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// LinkConfig defines the wireless link driver.
type LinkConfig struct {
	// Driver selects the link implementation: "nmcli" drives
	// NetworkManager on the host, "static" treats the link as always
	// up (wired boxes, development).
	Driver string `yaml:"driver"`
	// Interface is the wireless device name for the nmcli driver.
	Interface string `yaml:"interface"`
	// JoinTimeoutSec bounds a single reconnect join attempt (default 10).
	JoinTimeoutSec int `yaml:"join_timeout_sec"`
	// StartupJoinTimeoutSec bounds each per-profile startup attempt
	// (default 15).
	StartupJoinTimeoutSec int `yaml:"startup_join_timeout_sec"`
	// ProbeURL, when set, layers an HTTP reachability check over the
	// driver's own liveness report. Useful where association stays up
	// but the gateway is gone.
	ProbeURL string `yaml:"probe_url"`
	// ProbeInsecureTLS skips certificate verification on the probe,
	// for LAN gateways with self-signed certificates.
	ProbeInsecureTLS bool `yaml:"probe_insecure_tls"`
}

// BrokerConfig defines the pub/sub session.
type BrokerConfig struct {
	// Kind selects the session implementation: "mqtt" (default) or
	// "nats".
	Kind string `yaml:"kind"`
	// URL is the broker endpoint, e.g. tcp://192.168.1.100:1883.
	// Empty means discover an MQTT broker via mDNS.
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topic carries sensor samples; EventsTopic carries diagnostics.
	Topic       string `yaml:"topic"`
	EventsTopic string `yaml:"events_topic"`
	// QoS applies to MQTT publishes (0, 1, or 2).
	QoS               int `yaml:"qos"`
	KeepAliveSec      int `yaml:"keepalive_sec"`
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	PublishTimeoutSec int `yaml:"publish_timeout_sec"`
	// RetryIntervalSec is the fixed delay between failed session
	// attempts (default 5).
	RetryIntervalSec int `yaml:"retry_interval_sec"`
}

// SensorConfig defines the reading source.
type SensorConfig struct {
	// Driver selects the source: "sim" generates plausible readings,
	// "exec" reads JSON lines from a helper process that owns the
	// hardware.
	Driver string `yaml:"driver"`
	// ExecCommand is the helper command line for the exec driver.
	ExecCommand string `yaml:"exec_command"`
	// SampleIntervalSec is the publish cadence (default 60).
	SampleIntervalSec int `yaml:"sample_interval_sec"`
	// WarmupSec delays the sim driver's first reading, mimicking real
	// sensor warm-up.
	WarmupSec int `yaml:"warmup_sec"`
}

// StatusLEDConfig defines where the status pattern is rendered.
type StatusLEDConfig struct {
	// Sink selects the output: "log" (default) or "sysfs".
	Sink string `yaml:"sink"`
	// SysfsPath is the LED brightness file for the sysfs sink,
	// e.g. /sys/class/leds/ACT/brightness.
	SysfsPath string `yaml:"sysfs_path"`
}

// ListenConfig defines the status API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: 127.0.0.1)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines MQTT discovery announcements.
type HomeAssistantConfig struct {
	// Discovery enables retained Home Assistant discovery configs on
	// each session connect.
	Discovery bool `yaml:"discovery"`
	// DiscoveryPrefix is the HA discovery topic prefix (default
	// "homeassistant").
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// SupervisorConfig defines control loop timing.
type SupervisorConfig struct {
	// TickMs is the control loop cadence in milliseconds (default 1000).
	TickMs int `yaml:"tick_ms"`
	// BootSignalSec is how long the LED stays solid at startup
	// (default 5).
	BootSignalSec int `yaml:"boot_signal_sec"`
}

// Profiles converts the configured network list into profiles in
// priority order.
func (c *Config) Profiles() []profile.Profile {
	out := make([]profile.Profile, 0, len(c.Networks))
	for _, n := range c.Networks {
		out = append(out, profile.Profile{SSID: n.SSID, Secret: n.Password})
	}
	return out
}

// JoinTimeout returns the reconnect join attempt bound.
func (c LinkConfig) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutSec) * time.Second
}

// StartupJoinTimeout returns the per-profile startup attempt bound.
func (c LinkConfig) StartupJoinTimeout() time.Duration {
	return time.Duration(c.StartupJoinTimeoutSec) * time.Second
}

// KeepAlive returns the MQTT keep-alive interval.
func (c BrokerConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSec) * time.Second
}

// ConnectTimeout returns the session open attempt bound.
func (c BrokerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// PublishTimeout returns the bound on a single publish call.
func (c BrokerConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutSec) * time.Second
}

// RetryInterval returns the fixed delay between session attempts.
func (c BrokerConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSec) * time.Second
}

// SampleInterval returns the publish cadence.
func (c SensorConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalSec) * time.Second
}

// Warmup returns the sim driver's warm-up delay.
func (c SensorConfig) Warmup() time.Duration {
	return time.Duration(c.WarmupSec) * time.Second
}

// Tick returns the control loop cadence.
func (c SupervisorConfig) Tick() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// BootSignal returns the startup solid-LED duration.
func (c SupervisorConfig) BootSignal() time.Duration {
	return time.Duration(c.BootSignalSec) * time.Second
}

// Load reads configuration from a YAML file. A .env file next to the
// config, if present, is loaded into the environment first (existing
// variables win), then ${VAR} references in the YAML are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		// Load does not override variables already set.
		_ = godotenv.Load(envFile)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration. The broker and sensor
// timings are the ones the device has always shipped with.
func Default() *Config {
	return &Config{
		DeviceName: "stead",
		DataDir:    "/var/lib/stead",
		LogLevel:   "info",
		LogFormat:  "text",
		Link: LinkConfig{
			Driver:                "static",
			Interface:             "wlan0",
			JoinTimeoutSec:        10,
			StartupJoinTimeoutSec: 15,
		},
		Broker: BrokerConfig{
			Kind:              "mqtt",
			URL:               "tcp://192.168.1.100:1883",
			ClientID:          "pico-scd40",
			Topic:             "sensors/scd40",
			EventsTopic:       "sensors/scd40/events",
			KeepAliveSec:      30,
			ConnectTimeoutSec: 10,
			PublishTimeoutSec: 10,
			RetryIntervalSec:  5,
		},
		Sensor: SensorConfig{
			Driver:            "sim",
			SampleIntervalSec: 60,
			WarmupSec:         10,
		},
		StatusLED: StatusLEDConfig{
			Sink:      "log",
			SysfsPath: "/sys/class/leds/ACT/brightness",
		},
		Listen: ListenConfig{
			Address: "127.0.0.1",
			Port:    8080,
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryPrefix: "homeassistant",
		},
		Supervisor: SupervisorConfig{
			TickMs:        1000,
			BootSignalSec: 5,
		},
	}
}

// Validate checks settings that would otherwise fail deep inside a
// component at an awkward time.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch c.Link.Driver {
	case "nmcli", "static":
	default:
		return fmt.Errorf("link.driver: unknown driver %q (valid: nmcli, static)", c.Link.Driver)
	}
	if c.Link.Driver == "nmcli" && len(c.Networks) == 0 {
		return fmt.Errorf("networks: at least one network is required with the nmcli link driver")
	}
	for i, n := range c.Networks {
		if n.SSID == "" {
			return fmt.Errorf("networks[%d]: ssid is required", i)
		}
	}

	switch c.Broker.Kind {
	case "mqtt", "nats":
	default:
		return fmt.Errorf("broker.kind: unknown kind %q (valid: mqtt, nats)", c.Broker.Kind)
	}
	if c.Broker.URL != "" {
		if _, err := url.Parse(c.Broker.URL); err != nil {
			return fmt.Errorf("broker.url: %w", err)
		}
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return fmt.Errorf("broker.qos: %d out of range (valid: 0-2)", c.Broker.QoS)
	}
	if c.Broker.Topic == "" {
		return fmt.Errorf("broker.topic: a sample topic is required")
	}

	switch c.Sensor.Driver {
	case "sim", "exec":
	default:
		return fmt.Errorf("sensor.driver: unknown driver %q (valid: sim, exec)", c.Sensor.Driver)
	}
	if c.Sensor.Driver == "exec" && c.Sensor.ExecCommand == "" {
		return fmt.Errorf("sensor.exec_command: required with the exec driver")
	}
	if c.Sensor.SampleIntervalSec <= 0 {
		return fmt.Errorf("sensor.sample_interval_sec: must be positive")
	}

	switch c.StatusLED.Sink {
	case "log", "sysfs":
	default:
		return fmt.Errorf("status_led.sink: unknown sink %q (valid: log, sysfs)", c.StatusLED.Sink)
	}

	if c.Supervisor.TickMs <= 0 {
		return fmt.Errorf("supervisor.tick_ms: must be positive")
	}
	return nil
}
