package sensor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Sim generates a plausible indoor-air random walk. Values drift a
// little each read and stay inside ranges a real room produces, so
// downstream consumers see realistic data in development.
type Sim struct {
	warmup time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	started time.Time
	co2     float64
	temp    float64
	rh      float64

	now func() time.Time
}

// NewSim returns a simulated source that reports ErrNotReady for the
// given warmup period after its first read.
func NewSim(warmup time.Duration, logger *slog.Logger) *Sim {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sim{
		warmup: warmup,
		logger: logger,
		co2:    600,
		temp:   22.0,
		rh:     48.0,
		now:    time.Now,
	}
}

// Read advances the walk and returns the current values.
func (s *Sim) Read(ctx context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.started.IsZero() {
		s.started = now
		s.logger.Debug("sim sensor warming up", "warmup", s.warmup)
	}
	if now.Sub(s.started) < s.warmup {
		return Reading{}, ErrNotReady
	}

	s.co2 = clamp(s.co2+rand.Float64()*30-15, 400, 2000)
	s.temp = clamp(s.temp+rand.Float64()*0.3-0.15, 16, 30)
	s.rh = clamp(s.rh+rand.Float64()*0.8-0.4, 25, 75)

	return Reading{
		CO2:  int(s.co2),
		Temp: s.temp,
		RH:   s.rh,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ Source = (*Sim)(nil)
