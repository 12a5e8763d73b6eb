// Package watcher reloads the configuration file when it changes on
// disk, so log level and scheduling tweaks take effect without a
// restart.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sydlexius/needledrop/internal/config"
	"github.com/sydlexius/needledrop/internal/event"
)

// Service watches a config file and invokes a reload callback when it
// changes. Editors typically replace files via rename, so the parent
// directory is watched rather than the file itself.
type Service struct {
	configPath string
	onReload   func(cfg *config.Config)
	eventBus   *event.Bus
	logger     *slog.Logger
	debounce   time.Duration
}

// NewService creates a config file watcher. onReload is called with the
// freshly loaded config after every debounced change.
func NewService(configPath string, onReload func(cfg *config.Config), eventBus *event.Bus, logger *slog.Logger) *Service {
	return &Service{
		configPath: configPath,
		onReload:   onReload,
		eventBus:   eventBus,
		logger:     logger.With(slog.String("component", "config-watcher")),
		debounce:   500 * time.Millisecond,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// Start blocks until ctx is canceled. If fsnotify is unavailable the
// service logs a warning and returns; config reload is a convenience,
// not a requirement.
func (s *Service) Start(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, config reload disabled", "error", err)
		return
	}
	defer w.Close() //nolint:errcheck

	dir := filepath.Dir(s.configPath)
	if err := w.Add(dir); err != nil {
		s.logger.Warn("cannot watch config directory, reload disabled",
			"dir", dir, "error", err)
		return
	}

	s.logger.Info("watching config file", slog.String("path", s.configPath))

	// Debounce timer coalesces write/rename bursts into a single reload.
	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	reloadPending := false

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("config watcher stopping")
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.configPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(s.debounce)
			reloadPending = true

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if reloadPending {
				reloadPending = false
				s.reload()
			}
		}
	}
}

func (s *Service) reload() {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Error("config reload failed, keeping previous config", "error", err)
		return
	}

	s.logger.Info("config file changed, reloading")

	if s.onReload != nil {
		s.onReload(cfg)
	}

	if s.eventBus != nil {
		s.eventBus.Publish(event.Event{
			Type: event.ConfigReloaded,
			Data: map[string]any{"path": s.configPath},
		})
	}
}
