package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
)

// settle absorbs the burst of events editors produce for one save
const settle = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes every valid
// configuration to onChange. Invalid edits are logged and ignored, so the
// last good configuration stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(settle)
			}

		case <-pending:
			pending = nil
			cfg, err := Load(target)
			if err != nil {
				logger.Warn("Ignoring config change", logger.Fields{"path": target, "error": err.Error()})
				continue
			}
			logger.Info("Config reloaded", logger.Fields{"path": target, "feeds": len(cfg.Feeds)})
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", logger.Fields{"error": err.Error()})
		}
	}
}
