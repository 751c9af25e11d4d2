package config

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 500 * time.Millisecond

// Watcher reloads the configuration when the file changes or on SIGHUP.
// The reload callback runs on the watcher goroutine; callers that own
// single-threaded state must hand the new config over to their own loop.
type Watcher struct {
	configPath string
	logger     zerolog.Logger
	watcher    *fsnotify.Watcher
	onReload   func(*Config) error
}

// NewWatcher creates a new config file watcher
func NewWatcher(configPath string, onReload func(*Config) error, logger zerolog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory so editors that replace the file are still seen
	if err := fsWatcher.Add(filepath.Dir(configPath)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		configPath: filepath.Clean(configPath),
		logger:     logger.With().Str("component", "config-watcher").Logger(),
		watcher:    fsWatcher,
		onReload:   onReload,
	}, nil
}

// Start watches for changes until ctx is done
func (w *Watcher) Start(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)

	go func() {
		defer w.watcher.Close()
		defer signal.Stop(sigChan)

		var debounceTimer *time.Timer

		for {
			select {
			case <-ctx.Done():
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				w.logger.Info().Msg("Config watcher stopped")
				return

			case sig := <-sigChan:
				w.logger.Info().
					Str("signal", sig.String()).
					Msg("Received signal, reloading configuration")
				w.reload()

			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.configPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				w.logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Config file changed")

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, w.reload)

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error().Err(err).Msg("Config watcher error")
			}
		}
	}()

	w.logger.Info().
		Str("path", w.configPath).
		Msg("Config watcher started")
}

// reload loads and applies the new configuration, keeping the current one on failure
func (w *Watcher) reload() {
	newCfg, err := Load(w.configPath)
	if err != nil {
		w.logger.Error().
			Err(err).
			Msg("Failed to load new configuration - keeping current config")
		return
	}

	if err := w.onReload(newCfg); err != nil {
		w.logger.Error().
			Err(err).
			Msg("Failed to apply new configuration - keeping current config")
		return
	}

	w.logger.Info().Msg("Configuration reloaded")
}
