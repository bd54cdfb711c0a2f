// Package statusled turns supervisor state into blink patterns for the
// single onboard LED, the only diagnostic surface visible without a
// network. Counting blinks identifies the failing layer.
//
// Encoding is a pure function of the observed state. The Runner
// replays the encoded pattern onto a Sink until told otherwise, so a
// pattern stays countable for as long as the condition holds.
package statusled

import "time"

// View is the slice of system state the encoder looks at.
type View struct {
	// Boot is true during the fixed boot window after process start.
	Boot bool
	// LinkOK is true while the network link is connected.
	LinkOK bool
	// SessionOK is true while the broker session is connected.
	SessionOK bool
	// SensorFault is true while the sensor is failing to produce
	// readings. Warmup does not count.
	SensorFault bool
	// RuntimeFault is latched after an unclassified fault inside the
	// control loop and stays set until restart.
	RuntimeFault bool
}

// Signal is what the LED should express right now.
type Signal uint8

const (
	// SignalHealthy plays a short heartbeat blip so a quiet LED still
	// proves the loop is alive.
	SignalHealthy Signal = iota
	// SignalBoot holds the LED solid during startup.
	SignalBoot
	// SignalLinkDown is one blink per burst.
	SignalLinkDown
	// SignalSessionDown is two blinks per burst.
	SignalSessionDown
	// SignalSensorFault is three blinks per burst.
	SignalSensorFault
	// SignalRuntimeFault is four blinks per burst.
	SignalRuntimeFault
)

// String returns the signal name used in logs and event payloads.
func (s Signal) String() string {
	switch s {
	case SignalHealthy:
		return "healthy"
	case SignalBoot:
		return "boot"
	case SignalLinkDown:
		return "link_down"
	case SignalSessionDown:
		return "session_down"
	case SignalSensorFault:
		return "sensor_fault"
	case SignalRuntimeFault:
		return "runtime_fault"
	default:
		return "unknown"
	}
}

// Encode maps a view to the signal for its most fundamental problem.
// An unusable link makes every other diagnosis meaningless, so link
// outranks session, session outranks sensor, sensor outranks runtime.
func Encode(v View) Signal {
	switch {
	case v.Boot:
		return SignalBoot
	case !v.LinkOK:
		return SignalLinkDown
	case !v.SessionOK:
		return SignalSessionDown
	case v.SensorFault:
		return SignalSensorFault
	case v.RuntimeFault:
		return SignalRuntimeFault
	default:
		return SignalHealthy
	}
}

// Pattern describes one repeating burst of LED activity.
type Pattern struct {
	// Pulses is the number of blinks per burst. Zero means hold the
	// LED solid on.
	Pulses int
	// On and Off are the blink widths within a burst.
	On, Off time.Duration
	// Rest is the dark pause after a burst before it repeats, which
	// is what makes consecutive bursts countable.
	Rest time.Duration
}

// Blink timing shared by the numbered patterns.
const (
	pulseOn  = 200 * time.Millisecond
	pulseOff = 200 * time.Millisecond
	restGap  = time.Second

	heartbeatOn   = 100 * time.Millisecond
	heartbeatRest = 10*time.Second - heartbeatOn
)

// Pattern returns the burst shape for the signal.
func (s Signal) Pattern() Pattern {
	switch s {
	case SignalBoot:
		return Pattern{Pulses: 0}
	case SignalLinkDown:
		return Pattern{Pulses: 1, On: pulseOn, Off: pulseOff, Rest: restGap}
	case SignalSessionDown:
		return Pattern{Pulses: 2, On: pulseOn, Off: pulseOff, Rest: restGap}
	case SignalSensorFault:
		return Pattern{Pulses: 3, On: pulseOn, Off: pulseOff, Rest: restGap}
	case SignalRuntimeFault:
		return Pattern{Pulses: 4, On: pulseOn, Off: pulseOff, Rest: restGap}
	default:
		return Pattern{Pulses: 1, On: heartbeatOn, Rest: heartbeatRest}
	}
}
