package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch follows config.toml and invokes onChange with the freshly loaded
// Config whenever the file is written or recreated. Runtime tuning sections
// (decay, search) can be adjusted without restarting the server.
//
// Blocks until ctx is cancelled. Returns immediately with no error when the
// Configer has no resolved config path.
func (c *Configer) Watch(ctx context.Context, onChange func(*Config)) error {
	if c.targetPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file itself: editors and
	// SaveConfig replace the file, which would orphan a file watch.
	if err := watcher.Add(filepath.Dir(c.targetPath)); err != nil {
		return fmt.Errorf("watching config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(c.targetPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := c.LoadConfig()
			if err != nil {
				// A partially written file parses again on the next event.
				continue
			}
			onChange(cfg)

		case err := <-watcher.Errors:
			return fmt.Errorf("config watcher error: %w", err)
		}
	}
}
