package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/lexikon-ai/kbengine/internal/logger"
)

// Watch reloads the configuration whenever the file at path changes and
// swaps it into the runtime. Reload failures keep the previous
// configuration; only tunables are expected to change between reloads
// (connection settings take effect on restart).
func Watch(ctx context.Context, path string, rt *Runtime) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("Config reload failed, keeping previous: %v", err)
					continue
				}
				rt.Swap(cfg)
				logger.Info("Config reloaded: vector_weight=%.2f lexical_weight=%.2f quality_threshold=%.2f",
					cfg.Search.VectorWeight, cfg.Search.LexicalWeight, cfg.Quality.Threshold)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error: %v", err)
			}
		}
	}()

	return nil
}
