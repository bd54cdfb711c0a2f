package supervisor

import (
	"context"
	"time"

	"github.com/nugget/stead/internal/diag"
	"github.com/nugget/stead/internal/journal"
)

// tickSession advances the session machine one step. It runs after
// the link machine inside the same tick, so it always sees the
// freshest link state; the session only ever moves forward while the
// link is connected.
func (s *Supervisor) tickSession(ctx context.Context, now time.Time) {
	if s.linkState != LinkConnected {
		s.suspend(ctx)
		return
	}

	switch s.sessionState {
	case SessionDisconnected:
		s.setSession(SessionConnecting, "")
		s.advanceSession(now)

	case SessionSuspended:
		s.logger.Info("link restored, resuming session")
		s.setSession(SessionConnecting, "link restored")
		s.advanceSession(now)

	case SessionConnecting, SessionReconnecting:
		if err, done := s.sessionAttempt.poll(); done {
			s.finishSessionAttempt(ctx, now, err)
			return
		}
		s.advanceSession(now)

	case SessionConnected:
		if s.session.Alive() {
			return
		}
		s.logger.Warn("broker session lost")
		s.journal.Append(journal.New(journal.SeverityWarning, journal.KindSessionLoss, "broker session lost"))
		s.setSession(SessionReconnecting, "connection lost")
		s.sessionRetryAt = now
	}
}

// suspend parks the session while the link is down. Suspending an
// already suspended session does nothing, so a long outage produces
// exactly one suspension record. An in-flight open attempt is
// abandoned; its late result will be ignored.
func (s *Supervisor) suspend(ctx context.Context) {
	switch s.sessionState {
	case SessionDisconnected, SessionSuspended:
		return
	}

	s.sessionAttempt.abandon()
	s.logger.Warn("session suspended due to link loss")
	s.journal.Append(journal.New(journal.SeverityWarning, journal.KindSessionSuspended, "suspended due to link loss"))
	s.setSession(SessionSuspended, diag.ReasonLinkLoss)
	s.diag.Suspended(ctx, diag.ReasonLinkLoss)
}

// advanceSession begins the next open attempt, once the driver is
// free and the retry interval has passed. The attempt counter
// increments when the attempt launches, so the count carried by a
// success includes the attempt that succeeded.
func (s *Supervisor) advanceSession(now time.Time) {
	if s.sessionAttempt.busy() || now.Before(s.sessionRetryAt) {
		return
	}

	s.sessionAttempts++
	s.logger.Debug("opening broker session",
		"endpoint", s.cfg.Endpoint,
		"attempt", s.sessionAttempts,
	)

	drv := s.session
	endpoint, clientID := s.cfg.Endpoint, s.cfg.ClientID
	s.sessionAttempt.begin(s.cfg.ConnectTimeout, func(ctx context.Context) error {
		return drv.Open(ctx, endpoint, clientID)
	})
}

// finishSessionAttempt handles the outcome of one open attempt. A
// success out of Reconnecting emits the reconnected diagnostic
// carrying the attempt count, then resets the counter, then moves to
// Connected.
func (s *Supervisor) finishSessionAttempt(ctx context.Context, now time.Time, err error) {
	if err != nil {
		s.metrics.IncSessionAttempt(false)
		s.logger.Warn("session connect failed",
			"attempt", s.sessionAttempts,
			"error", err,
		)
		e := journal.New(journal.SeverityWarning, journal.KindSessionConnect, "session connect failed")
		e.Attempts = s.sessionAttempts
		e.Err = err.Error()
		s.journal.Append(e)

		s.setSession(SessionReconnecting, err.Error())
		s.sessionRetryAt = now.Add(s.cfg.SessionRetryInterval)
		return
	}

	s.metrics.IncSessionAttempt(true)
	attempts := s.sessionAttempts
	reconnected := s.sessionState == SessionReconnecting
	s.logger.Info("broker session established", "attempts", attempts)

	e := journal.New(journal.SeverityInfo, journal.KindSessionUp, "broker session established")
	e.Attempts = attempts
	s.journal.Append(e)

	if reconnected {
		s.diag.Reconnected(ctx, attempts)
	}
	s.sessionAttempts = 0
	s.setSession(SessionConnected, "")
	s.sensorWaitingSent = false

	if s.onSessionUp != nil {
		go s.onSessionUp()
	}
}
