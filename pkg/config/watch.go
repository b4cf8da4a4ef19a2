package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the navigator block of the routing file whenever it changes
// on disk and hands the new config to onChange. The parent directory is
// watched so editors that replace the file atomically are still seen.
// Parse failures are passed to onError (if non-nil) and the previous config
// stays in effect. Watch returns once the watcher is installed; it stops when
// ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*NavigatorConfig), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	name := filepath.Base(path)
	reload := func() {
		cfg, err := LoadNavigatorConfig(path)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", path, err))
			}
			return
		}
		onChange(cfg)
	}

	go func() {
		defer watcher.Close()

		var (
			mu    sync.Mutex
			timer *time.Timer
		)
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
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Editors often write several times in a row.
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if ctx.Err() == nil {
						reload()
					}
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return nil
}
