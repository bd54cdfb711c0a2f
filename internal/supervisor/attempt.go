package supervisor

import (
	"context"
	"time"
)

// attemptResult carries the outcome of one bounded driver call back to
// the tick loop.
type attemptResult struct {
	id  uint64
	err error
}

// attempt runs bounded driver calls off the tick goroutine, one at a
// time. The loop polls for the outcome instead of blocking on it. An
// abandoned attempt keeps running to its own timeout; when its result
// finally lands it is recognized by id and dropped. Nothing ever
// cancels into the driver mid-call.
type attempt struct {
	lastID    uint64
	wantedID  uint64 // nonzero while the loop still wants an outcome
	runningID uint64 // nonzero while a driver call is still executing
	results   chan attemptResult
}

func newAttempt() *attempt {
	// One goroutine at most is ever in flight, so its single send can
	// never block on this buffer.
	return &attempt{results: make(chan attemptResult, 4)}
}

// busy reports whether a driver call is still executing. A new attempt
// must not begin while the driver is occupied, even when the outcome
// is no longer wanted.
func (a *attempt) busy() bool { return a.runningID != 0 }

// begin launches fn under its own timeout. Callers must check busy
// first.
func (a *attempt) begin(timeout time.Duration, fn func(ctx context.Context) error) {
	a.lastID++
	id := a.lastID
	a.wantedID = id
	a.runningID = id
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a.results <- attemptResult{id: id, err: fn(ctx)}
	}()
}

// poll reports the outcome of the wanted attempt if it has arrived.
// Results from abandoned attempts free the driver slot and are
// otherwise discarded.
func (a *attempt) poll() (err error, done bool) {
	for {
		select {
		case r := <-a.results:
			if r.id == a.runningID {
				a.runningID = 0
			}
			if r.id == a.wantedID {
				a.wantedID = 0
				return r.err, true
			}
		default:
			return nil, false
		}
	}
}

// abandon gives up on the outcome of the current attempt. The driver
// call keeps running to its own timeout and its late result is
// dropped by poll.
func (a *attempt) abandon() {
	a.wantedID = 0
}
