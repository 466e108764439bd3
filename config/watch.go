package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wesm/work-inbox/internal/logging"
)

const watchDebounce = 300 * time.Millisecond

// Loader turns a config file into a ready-to-use configuration
type Loader func(path string) (*Config, error)

// LoadResolved loads, validates and resolves keychain tokens
func LoadResolved(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ResolveTokens(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch reloads the config file when it changes and passes each configuration that loads
// cleanly to onChange. Bursts of events are debounced. It blocks until ctx is done.
func Watch(ctx context.Context, path string, load Loader, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	// Editors often replace the file, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, err := load(path)
		if err != nil {
			logging.Warn("Ignoring config change: %v", err)
			return
		}
		logging.Info("Reloaded configuration from %s", path)
		onChange(cfg)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Config watcher error: %v", err)
		}
	}
}
