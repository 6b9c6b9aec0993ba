package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"spindle/internal/logger"
	"spindle/pkg/errs"
)

// Watch reloads the config file whenever it changes on disk and hands
// each successfully parsed config to onChange. It blocks until ctx is
// cancelled; run it in its own goroutine. The parent directory is
// watched rather than the file itself so atomic rename-style saves
// from editors are still observed.
func Watch(ctx context.Context, path string, lg *logger.Logger, onChange func(BenchmarkConfig)) error {
	lg = logger.Default(lg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "create config watcher", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return errs.Wrap(errs.KindPersistence, "watch config dir", err)
	}
	lg.Debug("watching %s for config changes", path)

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				lg.Warn("config reload failed: %v", err)
				continue
			}
			lg.Info("config reloaded from %s", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			lg.Warn("config watcher error: %v", err)
		}
	}
}
