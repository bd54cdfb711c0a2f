package supervisor

import (
	"time"

	"github.com/nugget/stead/internal/sensor"
)

// LinkState is where the wireless join layer is in its lifecycle.
type LinkState uint8

const (
	// LinkDisconnected means no join exists and no attempt is running.
	// Startup begins here, and a fully exhausted startup scan returns
	// here before the next round.
	LinkDisconnected LinkState = iota
	// LinkConnecting means the startup scan is walking the configured
	// profile list in priority order.
	LinkConnecting
	// LinkConnected means the link is up and being watched.
	LinkConnected
	// LinkReconnecting means an established link dropped and recovery
	// is retrying the remembered profile only.
	LinkReconnecting
)

// String returns the state name used in logs, metrics labels, and
// status output.
func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// SessionState is where the broker session is in its lifecycle. It
// mirrors LinkState plus Suspended, because a session cannot outlive
// the link underneath it.
type SessionState uint8

const (
	// SessionDisconnected means no session exists yet.
	SessionDisconnected SessionState = iota
	// SessionConnecting means the first session of a link is being
	// opened.
	SessionConnecting
	// SessionConnected means the session is usable for publishing.
	SessionConnected
	// SessionReconnecting means the session dropped or refused and
	// recovery is retrying on a fixed interval.
	SessionReconnecting
	// SessionSuspended means the link under the session is gone and
	// session attempts are parked until it returns. Suspended is not a
	// retry state.
	SessionSuspended
)

// String returns the state name used in logs, metrics labels, and
// status output.
func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionReconnecting:
		return "reconnecting"
	case SessionSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of supervisor state for status
// reporting. The supervisor owns the live tuple; everyone else sees
// one of these.
type Snapshot struct {
	Link            string          `json:"link"`
	Session         string          `json:"session"`
	Signal          string          `json:"signal"`
	RememberedSSID  string          `json:"remembered_ssid,omitempty"`
	LinkAttempts    int             `json:"link_attempts"`
	SessionAttempts int             `json:"session_attempts"`
	SensorFault     bool            `json:"sensor_fault"`
	RuntimeFault    bool            `json:"runtime_fault"`
	LastReading     *sensor.Reading `json:"last_reading,omitempty"`
	LastPublishAt   time.Time       `json:"last_publish_at"`
}
