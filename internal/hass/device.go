// Package hass announces the device to Home Assistant over MQTT
// discovery. On every session connect the supervisor triggers an
// announce, publishing retained sensor configs so HA rebuilds its
// entity registry even after its own restarts.
package hass

import "github.com/nugget/stead/internal/buildinfo"

// DeviceInfo holds the Home Assistant device registry fields shared
// across all discovery payloads. Every entity references the same
// device block so HA groups them under a single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic,omitempty"`
	ValueTemplate     string     `json:"value_template,omitempty"`
	Device            DeviceInfo `json:"device"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// NewDeviceInfo creates a DeviceInfo from the persistent instance ID
// and the human-readable device name. The instance ID is the primary
// HA device identifier, stable across renames, so entity history
// survives reconfiguration.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "Stead",
		Model:        "SCD-40 CO2 Monitor",
		SWVersion:    buildinfo.Version,
	}
}
