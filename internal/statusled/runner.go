package statusled

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner replays the current signal's pattern onto a sink. Set may be
// called from any goroutine; a changed signal interrupts the pattern
// mid-burst, an unchanged one leaves the burst alone so blinks stay
// countable.
type Runner struct {
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	current Signal

	changed chan struct{}
}

// NewRunner builds a runner starting in the boot signal.
func NewRunner(sink Sink, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sink:    sink,
		logger:  logger,
		current: SignalBoot,
		changed: make(chan struct{}, 1),
	}
}

// Set updates the signal. A no-op when the signal is unchanged.
func (r *Runner) Set(sig Signal) {
	r.mu.Lock()
	if r.current == sig {
		r.mu.Unlock()
		return
	}
	prev := r.current
	r.current = sig
	r.mu.Unlock()

	r.logger.Debug("status signal changed", "from", prev.String(), "to", sig.String())

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Signal returns the signal currently being played.
func (r *Runner) Signal() Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Start drives the sink until ctx is cancelled, then leaves the LED
// off.
func (r *Runner) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			r.set(false)
			return
		}
		r.play(ctx, r.Signal().Pattern())
	}
}

// play runs one full cycle of the pattern. It returns early when the
// signal changes or ctx is cancelled.
func (r *Runner) play(ctx context.Context, p Pattern) {
	if p.Pulses == 0 {
		r.set(true)
		select {
		case <-ctx.Done():
		case <-r.changed:
		}
		return
	}

	for i := 0; i < p.Pulses; i++ {
		r.set(true)
		if !r.sleep(ctx, p.On) {
			return
		}
		r.set(false)
		if i < p.Pulses-1 {
			if !r.sleep(ctx, p.Off) {
				return
			}
		}
	}
	r.sleep(ctx, p.Rest)
}

// sleep waits for d, reporting false when interrupted by a signal
// change or cancellation.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.changed:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) set(on bool) {
	if err := r.sink.Set(on); err != nil {
		r.logger.Debug("led sink write failed", "error", err)
	}
}
