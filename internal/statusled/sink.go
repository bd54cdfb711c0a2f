package statusled

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/stead/internal/config"
)

// Sink is where LED state lands: real hardware or a log line.
type Sink interface {
	Set(on bool) error
}

// LogSink traces LED transitions through the logger, for hosts with
// no LED wired up.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs transitions at trace level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Set(on bool) error {
	s.logger.Log(context.Background(), config.LevelTrace, "led", "on", on)
	return nil
}

// SysfsSink drives a Linux LED class device through its brightness
// file, like /sys/class/leds/ACT/brightness.
type SysfsSink struct {
	path string
}

// NewSysfsSink returns a sink writing to the given brightness file.
func NewSysfsSink(path string) (*SysfsSink, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("led brightness file: %w", err)
	}
	return &SysfsSink{path: path}, nil
}

func (s *SysfsSink) Set(on bool) error {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	if err := os.WriteFile(s.path, v, 0644); err != nil {
		return fmt.Errorf("write led brightness: %w", err)
	}
	return nil
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*SysfsSink)(nil)
)
