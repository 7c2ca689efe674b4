package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch watches filePath for writes/creates and invokes onChange with a
// freshly-reloaded Config each time the file settles, debouncing rapid
// successive writes the way editors and atomic-rename saves produce.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, filePath string, onChange func(*Config, error)) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(absPath)
	name := filepath.Base(absPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	const debounceDelay = 100 * time.Millisecond
	var debounce *time.Timer
	fire := func() {
		cfg, err := LoadConfig(absPath)
		onChange(cfg, err)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, fire)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
