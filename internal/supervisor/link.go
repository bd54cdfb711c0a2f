package supervisor

import (
	"context"

	"github.com/nugget/stead/internal/journal"
	"github.com/nugget/stead/internal/profile"
)

// tickLink advances the link machine one step. Failure paths always
// land back in an attempt state; the machine has no way to give up.
func (s *Supervisor) tickLink(ctx context.Context) {
	switch s.linkState {
	case LinkDisconnected:
		s.scanIdx = 0
		s.setLink(LinkConnecting, "")
		s.logger.Info("starting network scan", "profiles", len(s.profiles))
		s.advanceScan()

	case LinkConnecting:
		if err, done := s.linkAttempt.poll(); done {
			s.finishScanAttempt(err)
			return
		}
		s.advanceScan()

	case LinkConnected:
		if s.link.Alive(ctx) {
			return
		}
		remembered, _ := s.memory.Recall()
		s.logger.Warn("network link lost", "ssid", remembered.SSID)

		e := journal.New(journal.SeverityWarning, journal.KindLinkLoss, "network link lost")
		e.Profile = remembered.SSID
		s.journal.Append(e)

		s.setLink(LinkReconnecting, remembered.SSID)

	case LinkReconnecting:
		if err, done := s.linkAttempt.poll(); done {
			s.finishReconnectAttempt(err)
			return
		}
		s.advanceReconnect()
	}
}

// advanceScan begins the join attempt for the current scan position,
// once the driver is free.
func (s *Supervisor) advanceScan() {
	if s.linkAttempt.busy() || s.scanIdx >= len(s.profiles) {
		return
	}

	p := s.profiles[s.scanIdx]
	s.linkAttempts++
	s.linkTarget = p
	s.logger.Debug("join attempt",
		"ssid", p.SSID,
		"attempt", s.linkAttempts,
		"timeout", s.cfg.StartupJoinTimeout,
	)

	drv := s.link
	s.linkAttempt.begin(s.cfg.StartupJoinTimeout, func(ctx context.Context) error {
		return drv.Join(ctx, p)
	})
}

// finishScanAttempt handles the outcome of one startup scan attempt.
// On failure it moves to the next profile in the same tick; exhausting
// the whole list reports the fatal startup condition and rescans from
// the top on the next tick.
func (s *Supervisor) finishScanAttempt(err error) {
	target := s.linkTarget
	if err == nil {
		s.linkEstablished(target, "network link established")
		return
	}

	s.metrics.IncLinkAttempt(false)
	s.logger.Warn("join failed", "ssid", target.SSID, "error", err)

	s.scanIdx++
	if s.scanIdx < len(s.profiles) {
		s.advanceScan()
		return
	}

	s.logger.Error("no configured network is joinable",
		"profiles", len(s.profiles),
		"attempts", s.linkAttempts,
	)
	e := journal.New(journal.SeverityError, journal.KindStartupConfig, "no configured network is joinable")
	e.Attempts = s.linkAttempts
	s.journal.Append(e)

	s.setLink(LinkDisconnected, "")
}

// advanceReconnect begins the next reconnect attempt against the
// remembered profile, once the driver is free. Reconnection never
// rescans; a device that joined once keeps knocking on that door.
func (s *Supervisor) advanceReconnect() {
	if s.linkAttempt.busy() {
		return
	}

	target, ok := s.memory.Recall()
	if !ok {
		// Nothing remembered means the profile was dropped by a
		// reconfigure. Fall back to a full scan.
		s.scanIdx = 0
		s.setLink(LinkConnecting, "")
		return
	}

	s.linkAttempts++
	s.linkTarget = target
	s.logger.Debug("reconnect attempt",
		"ssid", target.SSID,
		"attempt", s.linkAttempts,
		"timeout", s.cfg.JoinTimeout,
	)

	drv := s.link
	s.linkAttempt.begin(s.cfg.JoinTimeout, func(ctx context.Context) error {
		return drv.Join(ctx, target)
	})
}

// finishReconnectAttempt handles the outcome of one reconnect attempt.
// Failures just wait for the next tick; there is no backoff and no cap.
func (s *Supervisor) finishReconnectAttempt(err error) {
	target := s.linkTarget
	if err == nil {
		s.linkEstablished(target, "network link restored")
		return
	}

	s.metrics.IncLinkAttempt(false)
	s.logger.Warn("reconnect failed",
		"ssid", target.SSID,
		"attempt", s.linkAttempts,
		"error", err,
	)
}

// linkEstablished records a successful join: the profile becomes the
// remembered one, the event is logged with the attempt count, and the
// counter resets on the transition to connected.
func (s *Supervisor) linkEstablished(target profile.Profile, msg string) {
	s.metrics.IncLinkAttempt(true)
	s.memory.Remember(target)
	s.logger.Info(msg, "ssid", target.SSID, "attempts", s.linkAttempts)

	e := journal.New(journal.SeverityInfo, journal.KindLinkUp, msg)
	e.Profile = target.SSID
	e.Attempts = s.linkAttempts
	s.journal.Append(e)

	s.setLink(LinkConnected, target.SSID)
	s.linkAttempts = 0
}
