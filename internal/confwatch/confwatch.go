// Package confwatch reloads configuration while the daemon runs.
//
// The watcher monitors the directory holding the config file, because
// editors and config management tools replace files by rename and a
// watch on the file itself dies with the old inode. Change bursts are
// debounced into one reload. A file that fails to load or validate is
// journaled and dropped; the running configuration stays in effect.
package confwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nugget/stead/internal/config"
	"github.com/nugget/stead/internal/journal"
)

// DefaultDebounce gaps rapid write bursts into a single reload.
const DefaultDebounce = 2 * time.Second

// Config wires a Watcher.
type Config struct {
	// Path is the config file to watch.
	Path string

	// Debounce is how long to wait after the last change before
	// reloading. Zero means DefaultDebounce.
	Debounce time.Duration

	// OnChange receives each successfully loaded configuration.
	OnChange func(*config.Config)

	// Journal records applied and rejected reloads. Nil means no
	// journal.
	Journal journal.Journal

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	journal journal.Journal
}

// New builds a Watcher. Stop it by cancelling the context passed to
// Run.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("confwatch: path is required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("confwatch: resolve %s: %w", cfg.Path, err)
	}
	cfg.Path = abs
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	jrnl := cfg.Journal
	if jrnl == nil {
		jrnl = journal.Noop{}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("confwatch: %w", err)
	}
	return &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		logger:  cfg.Logger,
		journal: jrnl,
	}, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	dir := filepath.Dir(w.cfg.Path)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("confwatch: watch %s: %w", dir, err)
	}
	w.logger.Info("watching configuration", "path", w.cfg.Path)

	base := filepath.Base(w.cfg.Path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("configuration change detected", "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-fire:
					default:
					}
				}
				timer.Reset(w.cfg.Debounce)
			}

		case <-fire:
			timer, fire = nil, nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("configuration watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.cfg.Path)
	if err != nil {
		w.logger.Error("configuration reload rejected", "path", w.cfg.Path, "error", err)
		e := journal.New(journal.SeverityWarning, journal.KindConfigReload, "reload rejected")
		e.Err = err.Error()
		w.journal.Append(e)
		return
	}

	w.logger.Info("configuration reloaded", "path", w.cfg.Path, "networks", len(cfg.Networks))
	w.journal.Append(journal.New(journal.SeverityInfo, journal.KindConfigReload, "reload applied"))
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(cfg)
	}
}
