package netlink

import (
	"context"
	"log/slog"

	"github.com/nugget/stead/internal/profile"
)

// Static treats the link as managed outside the process: wired boxes,
// containers, and development hosts. Join succeeds immediately and the
// link is always considered up unless a probe wrapper says otherwise.
type Static struct {
	logger *slog.Logger
}

// NewStatic returns an always-attached driver.
func NewStatic(logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{logger: logger}
}

func (s *Static) Join(ctx context.Context, p profile.Profile) error {
	if p.IsZero() {
		return ErrNoProfile
	}
	s.logger.Debug("static link join", "ssid", p.SSID)
	return nil
}

func (s *Static) Alive(ctx context.Context) bool {
	return true
}

func (s *Static) Disconnect(ctx context.Context) error {
	return nil
}
