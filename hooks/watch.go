package hooks

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the script whenever its file is written or replaced, until ctx is done.
// The directory is watched rather than the file so editors that rename on save are handled.
// onReload is called after every attempt with the reload error, or nil on success.
func (e *Engine) Watch(ctx context.Context, onReload func(error)) error {
	if e.path == "" {
		return fmt.Errorf("hook script was not loaded from a file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher : %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(e.path)
	if err != nil {
		return fmt.Errorf("resolving hook script path : %w", err)
	}

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s : %w", filepath.Dir(target), err)
	}

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
			err := e.Reload()
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onReload != nil {
				onReload(fmt.Errorf("watching hook script : %w", err))
			}
		}
	}
}
