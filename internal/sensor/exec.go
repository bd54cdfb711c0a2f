package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"time"

	"github.com/nugget/stead/internal/config"
)

// Exec wraps an external reader process that prints one JSON object
// per line to stdout, like {"co2":412,"temp":23.45,"rh":55.32}. The
// most recent line becomes the current reading; a process exit turns
// every subsequent Read into a fault.
type Exec struct {
	command string
	logger  *slog.Logger

	cmd *exec.Cmd

	mu       sync.Mutex
	latest   Reading
	readAt   time.Time
	haveData bool
	exitErr  error
	exited   bool

	done chan struct{}
}

// NewExec builds an exec source around a shell command. Call Start to
// launch the process.
func NewExec(command string, logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		command: command,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the reader process and begins consuming its output.
// The process is killed when ctx is cancelled.
func (e *Exec) Start(ctx context.Context) error {
	e.logger.Info("starting sensor reader process", "command", e.command)

	cmd := exec.CommandContext(ctx, "sh", "-c", e.command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start sensor reader: %w", err)
	}
	e.cmd = cmd

	go e.drainStderr(stderr)
	go func() {
		e.consumeLines(stdout)
		err := cmd.Wait()
		e.mu.Lock()
		e.exited = true
		e.exitErr = err
		e.mu.Unlock()
		close(e.done)
		if err != nil {
			e.logger.Error("sensor reader process exited with error", "error", err)
		} else {
			e.logger.Warn("sensor reader process exited")
		}
	}()

	e.logger.Debug("sensor reader process started", "pid", cmd.Process.Pid)
	return nil
}

// Read returns the most recent line the process produced.
func (e *Exec) Read(ctx context.Context) (Reading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exited {
		if e.exitErr != nil {
			return Reading{}, fmt.Errorf("sensor reader process exited: %w", e.exitErr)
		}
		return Reading{}, fmt.Errorf("sensor reader process exited")
	}
	if !e.haveData {
		return Reading{}, ErrNotReady
	}
	return e.latest, nil
}

// LastUpdate returns when the most recent reading arrived, zero if
// none has.
func (e *Exec) LastUpdate() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readAt
}

// Done is closed when the reader process exits.
func (e *Exec) Done() <-chan struct{} {
	return e.done
}

// execLine matches the process's wire format. CO2 arrives as a number
// either way; some readers print it with a decimal point.
type execLine struct {
	CO2  float64 `json:"co2"`
	Temp float64 `json:"temp"`
	RH   float64 `json:"rh"`
}

// consumeLines parses stdout lines until the stream closes. Unparsable
// lines are logged and skipped so one bad print from the reader does
// not wedge the sensor.
func (e *Exec) consumeLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var parsed execLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			e.logger.Warn("sensor reader produced unparsable line",
				"line", string(line), "error", err)
			continue
		}

		e.mu.Lock()
		e.latest = Reading{
			CO2:  int(math.Round(parsed.CO2)),
			Temp: parsed.Temp,
			RH:   parsed.RH,
		}
		e.readAt = time.Now()
		e.haveData = true
		e.mu.Unlock()

		e.logger.Log(context.Background(), config.LevelTrace, "sensor line",
			"co2", parsed.CO2, "temp", parsed.Temp, "rh", parsed.RH)
	}
}

func (e *Exec) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		e.logger.Debug("sensor reader stderr", "line", scanner.Text())
	}
}

var _ Source = (*Exec)(nil)
