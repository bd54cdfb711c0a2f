// Package metrics defines observability hooks for the supervisor and
// publish path. Components receive a Recorder through their Config and
// default to NoopRecorder, so metrics stay optional and tests stay
// quiet.
package metrics

import "time"

// Recorder defines the metrics surface of the daemon. Implementations
// must tolerate nil receivers so optional injection stays cheap.
type Recorder interface {
	// ObserveTickDuration records how long one supervisor tick took.
	ObserveTickDuration(d time.Duration)
	// SetLinkState marks the current link state (exactly one active).
	SetLinkState(state string)
	// SetSessionState marks the current session state (exactly one active).
	SetSessionState(state string)
	// IncLinkAttempt counts a finished link join attempt.
	IncLinkAttempt(success bool)
	// IncSessionAttempt counts a finished session open attempt.
	IncSessionAttempt(success bool)
	// IncPublish counts a sample publish call.
	IncPublish(success bool)
	// IncDiagnostic counts a diagnostic event offered for publication.
	IncDiagnostic(event string, delivered bool)
	// SetReading exports the latest sensor values.
	SetReading(co2 int, temp, rh float64)
	// SetFault flags a sensor or runtime fault layer.
	SetFault(layer string, active bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics
// are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTickDuration(time.Duration) {}
func (NoopRecorder) SetLinkState(string)               {}
func (NoopRecorder) SetSessionState(string)            {}
func (NoopRecorder) IncLinkAttempt(bool)               {}
func (NoopRecorder) IncSessionAttempt(bool)            {}
func (NoopRecorder) IncPublish(bool)                   {}
func (NoopRecorder) IncDiagnostic(string, bool)        {}
func (NoopRecorder) SetReading(int, float64, float64)  {}
func (NoopRecorder) SetFault(string, bool)             {}

// Compile-time interface satisfaction check.
var _ Recorder = NoopRecorder{}
