package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor save bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// Watch follows config.yaml in the given .uxr directory and calls apply after
// each change has been re-read into the singleton. Blocks until ctx is done.
//
// The directory is watched rather than the file so atomic saves (write to
// temp, rename over config.yaml) keep firing events.
func Watch(ctx context.Context, uxrDir string, log *slog.Logger, apply func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(uxrDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", uxrDir, err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != "config.yaml" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if err := Reload(); err != nil {
					log.Warn("config reload failed", "error", err)
					return
				}
				log.Info("config reloaded", "path", FileUsed())
				apply()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}
