// Package journal records device lifecycle and fault events to an
// append-only CBOR file. The journal is the device's durable trail of
// what went wrong while nobody was watching: link losses, session
// errors, sensor faults, reboots.
//
// Journal writes are deliberately infallible from the caller's point of
// view: encoding or I/O failures are swallowed so that a broken journal
// can never take down the control loop it is documenting.
package journal

import (
	"fmt"
	"time"

	"github.com/nugget/stead/internal/buildinfo"
)

// Event is one journal record. CBOR encoding uses integer keys for
// compactness; JSON tags serve the log dump subcommand.
type Event struct {
	// Timestamp is the wall-clock time the event occurred.
	Timestamp time.Time `cbor:"1,keyasint" json:"ts"`

	// Uptime is time since process start, for operators correlating
	// entries against a device with no reliable wall clock.
	Uptime time.Duration `cbor:"2,keyasint" json:"uptime"`

	// Severity classifies how bad this is.
	Severity Severity `cbor:"3,keyasint" json:"severity"`

	// Kind classifies what happened.
	Kind Kind `cbor:"4,keyasint" json:"kind"`

	// Message is the human-readable description.
	Message string `cbor:"5,keyasint,omitempty" json:"message,omitempty"`

	// Profile is the network SSID involved, when relevant.
	Profile string `cbor:"6,keyasint,omitempty" json:"profile,omitempty"`

	// Attempts carries the retry count for reconnection events.
	Attempts int `cbor:"7,keyasint,omitempty" json:"attempts,omitempty"`

	// Err is the text of the underlying error, when there was one.
	Err string `cbor:"8,keyasint,omitempty" json:"err,omitempty"`
}

// Severity classifies the weight of a journal event.
type Severity uint8

const (
	// SeverityInfo marks routine lifecycle events.
	SeverityInfo Severity = 0
	// SeverityWarning marks recoverable trouble.
	SeverityWarning Severity = 1
	// SeverityError marks faults an operator should look at.
	SeverityError Severity = 2
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies what a journal event describes.
type Kind uint8

const (
	// KindBoot marks process start.
	KindBoot Kind = 0
	// KindShutdown marks orderly process stop.
	KindShutdown Kind = 1
	// KindLinkUp marks a successful network join.
	KindLinkUp Kind = 2
	// KindLinkLoss marks runtime loss of an established link.
	KindLinkLoss Kind = 3
	// KindStartupConfig marks exhaustion of every configured profile
	// at startup with no successful join.
	KindStartupConfig Kind = 4
	// KindSessionUp marks a usable broker session.
	KindSessionUp Kind = 5
	// KindSessionConnect marks a failed session open attempt.
	KindSessionConnect Kind = 6
	// KindSessionPublish marks a failed publish on an open session.
	KindSessionPublish Kind = 7
	// KindSessionSuspended marks a session parked because the link
	// underneath it dropped.
	KindSessionSuspended Kind = 8
	// KindSensorFault marks a sensor read failure.
	KindSensorFault Kind = 9
	// KindRuntimeFault marks an unclassified fault caught at the tick
	// boundary.
	KindRuntimeFault Kind = 10
	// KindDiagnostic marks an emitted diagnostic event.
	KindDiagnostic Kind = 11
	// KindSessionLoss marks runtime loss of an established session.
	KindSessionLoss Kind = 12
	// KindConfigReload marks a configuration hot reload, applied or
	// rejected.
	KindConfigReload Kind = 13
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBoot:
		return "BOOT"
	case KindShutdown:
		return "SHUTDOWN"
	case KindLinkUp:
		return "LINK_UP"
	case KindLinkLoss:
		return "LINK_LOSS"
	case KindStartupConfig:
		return "STARTUP_CONFIG"
	case KindSessionUp:
		return "SESSION_UP"
	case KindSessionConnect:
		return "SESSION_CONNECT"
	case KindSessionPublish:
		return "SESSION_PUBLISH"
	case KindSessionSuspended:
		return "SESSION_SUSPENDED"
	case KindSensorFault:
		return "SENSOR_FAULT"
	case KindRuntimeFault:
		return "RUNTIME_FAULT"
	case KindDiagnostic:
		return "DIAGNOSTIC"
	case KindSessionLoss:
		return "SESSION_LOSS"
	case KindConfigReload:
		return "CONFIG_RELOAD"
	default:
		return "UNKNOWN"
	}
}

// New returns an Event stamped with the current wall clock and process
// uptime. Callers fill optional fields on the returned value before
// appending it.
func New(sev Severity, kind Kind, msg string) Event {
	return Event{
		Timestamp: time.Now(),
		Uptime:    buildinfo.Uptime(),
		Severity:  sev,
		Kind:      kind,
		Message:   msg,
	}
}

// FormatText renders an event as a single log line in the device's
// traditional uptime-relative format:
//
//	[00:04:31] ERROR SESSION_CONNECT mqtt connect failed (dial tcp ...: i/o timeout)
func FormatText(e Event) string {
	u := e.Uptime.Truncate(time.Second)
	h := int(u.Hours())
	m := int(u.Minutes()) % 60
	s := int(u.Seconds()) % 60

	line := fmt.Sprintf("[%02d:%02d:%02d] %s %s %s", h, m, s, e.Severity, e.Kind, e.Message)
	if e.Profile != "" {
		line += fmt.Sprintf(" profile=%s", e.Profile)
	}
	if e.Attempts > 0 {
		line += fmt.Sprintf(" attempts=%d", e.Attempts)
	}
	if e.Err != "" {
		line += fmt.Sprintf(" (%s)", e.Err)
	}
	return line
}
