// Stead keeps a CO2 sensor node on the air.
//
// It supervises a wireless link and the broker session layered on it
// with a single fixed-cadence control loop, publishes SCD-40 readings
// and diagnostic events over MQTT, renders combined health on a status
// LED, and serves a read-only status API for inspection. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]) and reloaded when it changes on disk.
//
// Usage:
//
//	stead serve              Run the supervisor
//	stead init [dir]         Initialize a working directory with defaults
//	stead log                Print the on-device event journal
//	stead version            Print version and build information
//	stead -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/stead/internal/broker"
	"github.com/nugget/stead/internal/buildinfo"
	"github.com/nugget/stead/internal/config"
	"github.com/nugget/stead/internal/confwatch"
	"github.com/nugget/stead/internal/diag"
	"github.com/nugget/stead/internal/discover"
	"github.com/nugget/stead/internal/events"
	"github.com/nugget/stead/internal/hass"
	"github.com/nugget/stead/internal/journal"
	"github.com/nugget/stead/internal/metrics"
	"github.com/nugget/stead/internal/netlink"
	"github.com/nugget/stead/internal/opstate"
	"github.com/nugget/stead/internal/profile"
	"github.com/nugget/stead/internal/sensor"
	"github.com/nugget/stead/internal/statusapi"
	"github.com/nugget/stead/internal/statusled"
	"github.com/nugget/stead/internal/supervisor"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the stead command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the control loop and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "log":
		return runLog(stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// stead is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Stead - CO2 Sensor Connectivity Supervisor")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: stead [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Run the supervisor")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  log          Print the on-device event journal")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/stead/config.yaml, /etc/stead/config.yaml")
	return nil
}

// runLog handles the "stead log" subcommand. It prints the on-device
// event journal, oldest first. Useful over SSH after an outage: the
// journal holds exactly the events the broker never saw.
func runLog(stdout io.Writer, configPath string, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.DataDir, "journal.cbor")
	r, err := journal.NewReader(path)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", path, err)
	}
	defer r.Close()

	enc := json.NewEncoder(stdout)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		if outputFmt == "json" {
			if err := enc.Encode(e); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(stdout, journal.FormatText(e))
	}
}

// runServe handles the "stead serve" subcommand. It is the primary
// operating mode: loads config, opens the journal and state store,
// builds the link, session, and sensor drivers, starts the status API
// and the config watcher, and blocks in the control loop until a
// shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The control loop finishes its tick and stops
//  3. The broker session closes (publishing the offline availability
//     message first) and the HTTP server drains
//  4. The journal and state store are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting stead", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The level lives in a LevelVar so a config reload can adjust
	// it without rebuilding the handler.
	levelVar := new(slog.LevelVar)
	if cfg.LogLevel != "" {
		// ParseLogLevel is already validated by config.Validate(), so
		// this error path should be unreachable in practice.
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		levelVar.Set(level)
	}
	logger = newLogger(stdout, levelVar, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"device", cfg.DeviceName,
		"broker", cfg.Broker.Kind,
		"topic", cfg.Broker.Topic,
	)

	// --- Data directory ---
	// The journal, the operational state database, and the discovery
	// instance ID live under this directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Signal handling ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by every component:
	// one signal stops the control loop, the status API, and the
	// background watchers together.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Journal ---
	// Append-only CBOR event log. This is the record consulted when the
	// device was unreachable and the broker saw nothing.
	journalPath := filepath.Join(cfg.DataDir, "journal.cbor")
	jrnl, err := journal.Open(journalPath)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", journalPath, err)
	}
	defer jrnl.Close()
	jrnl.Append(journal.New(journal.SeverityInfo, journal.KindBoot, "device started"))

	// --- Operational state ---
	// Small SQLite key-value store for state that should survive
	// restarts but does not belong in the journal: boot counter, last
	// joined network, last publish.
	statePath := filepath.Join(cfg.DataDir, "state.db")
	state, err := opstate.NewStore(statePath)
	if err != nil {
		return fmt.Errorf("open state database %s: %w", statePath, err)
	}
	defer state.Close()

	if bootCount, err := state.BumpBootCount(); err != nil {
		logger.Warn("boot counter update failed", "error", err)
	} else {
		logger.Info("boot recorded", "count", bootCount)
	}

	// --- Event bus ---
	// In-process fan-out of state transitions, samples, and diagnostics.
	// Feeds the WebSocket stream and the state mirror.
	bus := events.New()

	// --- Metrics ---
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	// --- Network link ---
	link, err := netlink.New(netlink.Config{
		Driver:           cfg.Link.Driver,
		Interface:        cfg.Link.Interface,
		ProbeURL:         cfg.Link.ProbeURL,
		ProbeInsecureTLS: cfg.Link.ProbeInsecureTLS,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("link driver: %w", err)
	}

	// --- Broker session ---
	// The availability topic doubles as the MQTT will topic, so Home
	// Assistant marks the sensors unavailable when the session dies.
	var availabilityTopic string
	if cfg.HomeAssistant.Discovery {
		availabilityTopic = cfg.Broker.Topic + "/availability"
	}
	session, err := broker.New(broker.Config{
		Kind:              cfg.Broker.Kind,
		QoS:               byte(cfg.Broker.QoS),
		KeepAlive:         cfg.Broker.KeepAlive(),
		Username:          cfg.Broker.Username,
		Password:          cfg.Broker.Password,
		AvailabilityTopic: availabilityTopic,
		PublishTimeout:    cfg.Broker.PublishTimeout(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("broker driver: %w", err)
	}

	endpoint := cfg.Broker.URL
	if endpoint == "" {
		// No endpoint configured: find one via mDNS before the loop
		// starts. Endpoint changes require a restart either way, so a
		// one-shot browse is enough.
		browser := discover.New(discover.Config{Bus: bus, Logger: logger})
		endpoint, err = browser.FindBroker(ctx)
		if err != nil {
			return fmt.Errorf("discover broker: %w", err)
		}
	}

	// --- Sensor ---
	var src sensor.Source
	if cfg.Sensor.Driver == "exec" {
		reader := sensor.NewExec(cfg.Sensor.ExecCommand, logger)
		if err := reader.Start(ctx); err != nil {
			return fmt.Errorf("sensor reader: %w", err)
		}
		src = reader
	} else {
		src = sensor.NewSim(cfg.Sensor.Warmup(), logger)
	}

	// --- Profile memory ---
	// The persist hook leaves a breadcrumb in the state store. Startup
	// always scans the configured list from the top; the breadcrumb is
	// for postmortems, not for skipping the scan.
	memory := profile.NewMemory(func(p profile.Profile) {
		if err := state.SaveRememberedSSID(p.SSID); err != nil {
			logger.Debug("state write failed", "error", err)
		}
	})

	// --- Status LED ---
	var sink statusled.Sink
	if cfg.StatusLED.Sink == "sysfs" {
		sink, err = statusled.NewSysfsSink(cfg.StatusLED.SysfsPath)
		if err != nil {
			return fmt.Errorf("status LED: %w", err)
		}
	} else {
		sink = statusled.NewLogSink(logger)
	}
	led := statusled.NewRunner(sink, logger)
	go led.Start(ctx)

	// --- Diagnostics ---
	diagnostics := diag.New(diag.Config{
		Topic:   cfg.Broker.EventsTopic,
		Sender:  session,
		Journal: jrnl,
		Bus:     bus,
		Metrics: recorder,
		Logger:  logger,
	})

	// --- Home Assistant discovery ---
	// Optional: announces the CO2, temperature, and humidity entities
	// with retained discovery configs on every session connect.
	var onSessionUp func()
	if cfg.HomeAssistant.Discovery {
		instanceID, err := hass.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load instance id: %w", err)
		}
		logger.Info("discovery instance ID loaded", "instance_id", instanceID)

		announcer := hass.NewAnnouncer(hass.Config{
			DiscoveryPrefix:   cfg.HomeAssistant.DiscoveryPrefix,
			DeviceName:        cfg.DeviceName,
			InstanceID:        instanceID,
			SampleTopic:       cfg.Broker.Topic,
			AvailabilityTopic: availabilityTopic,
			Sender:            session,
			Logger:            logger,
		})
		onSessionUp = func() {
			actx, acancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer acancel()
			announcer.Announce(actx)
		}
	}

	// --- Supervisor ---
	// The control loop that owns the link, session, LED, and sample
	// state machines.
	sup := supervisor.New(supervisor.Config{
		Link:    link,
		Session: session,
		Sensor:  src,

		Profiles: linkProfiles(cfg),
		Memory:   memory,

		Endpoint:    endpoint,
		ClientID:    cfg.Broker.ClientID,
		SampleTopic: cfg.Broker.Topic,

		Diag:    diagnostics,
		LED:     led,
		Journal: jrnl,
		Bus:     bus,
		Metrics: recorder,
		Logger:  logger,

		OnSessionUp: onSessionUp,

		Tick:                 cfg.Supervisor.Tick(),
		BootSignal:           cfg.Supervisor.BootSignal(),
		StartupJoinTimeout:   cfg.Link.StartupJoinTimeout(),
		JoinTimeout:          cfg.Link.JoinTimeout(),
		ConnectTimeout:       cfg.Broker.ConnectTimeout(),
		PublishTimeout:       cfg.Broker.PublishTimeout(),
		SessionRetryInterval: cfg.Broker.RetryInterval(),
		SampleInterval:       cfg.Sensor.SampleInterval(),
	})

	// --- Status API ---
	server := statusapi.NewServer(statusapi.Config{
		Address:     cfg.Listen.Address,
		Port:        cfg.Listen.Port,
		Status:      sup,
		Bus:         bus,
		Registry:    registry,
		JournalPath: journalPath,
		Logger:      logger,
	})
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status API server failed", "error", err)
		}
	}()

	// --- Config hot reload ---
	// The network list and log level apply without a restart. Broker
	// and driver changes take effect on the next boot.
	watcher, err := confwatch.New(confwatch.Config{
		Path:    cfgPath,
		Journal: jrnl,
		Logger:  logger,
		OnChange: func(next *config.Config) {
			sup.Reconfigure(linkProfiles(next))
			if level, err := config.ParseLogLevel(next.LogLevel); err == nil {
				levelVar.Set(level)
			}
		},
	})
	if err != nil {
		// The daemon is still fully functional without hot reload.
		logger.Warn("config hot reload unavailable", "error", err)
	} else {
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("config watcher failed", "error", err)
			}
		}()
	}

	// --- State mirror ---
	// Mirrors the publish trail into the state store so the next boot
	// can tell when the device last reported.
	go func() {
		ch := bus.Subscribe(16)
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if ev.Kind != events.KindSamplePublished {
					continue
				}
				if err := state.SetLastPublish(ev.Timestamp); err != nil {
					logger.Debug("state write failed", "error", err)
				}
			}
		}
	}()

	// --- Graceful shutdown ---
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		jrnl.Append(journal.New(journal.SeverityInfo, journal.KindShutdown, "shutdown signal received"))
	}()

	// The control loop is the primary. It blocks until ctx is
	// cancelled.
	sup.Start(ctx)

	// The loop has stopped ticking, so the session closes without
	// racing a publish. The MQTT driver publishes the retained offline
	// availability message on the way out.
	if err := session.Close(); err != nil {
		logger.Warn("session close failed", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("stead stopped")
	return nil
}

// linkProfiles returns the startup scan list for cfg. A configuration
// with no networks (allowed with the static link driver) gets a single
// synthetic profile so the state machines still have a name to report.
func linkProfiles(cfg *config.Config) []profile.Profile {
	profiles := cfg.Profiles()
	if len(profiles) == 0 {
		profiles = []profile.Profile{{SSID: "wired"}}
	}
	return profiles
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in stead goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
