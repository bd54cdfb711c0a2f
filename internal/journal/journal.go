package journal

// Journal is the sink for device events. Implementations must be safe
// for concurrent use and must never let their own failures reach the
// caller.
type Journal interface {
	// Append records one event. Failures are swallowed.
	Append(e Event)
}

// Noop discards all events. Usable as a zero value when journaling is
// disabled.
type Noop struct{}

// Append discards the event.
func (Noop) Append(Event) {}

// Multi fans events out to several journals in order.
type Multi []Journal

// Append forwards the event to every member journal.
func (m Multi) Append(e Event) {
	for _, j := range m {
		if j != nil {
			j.Append(e)
		}
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Journal = Noop{}
	_ Journal = Multi{}
)
