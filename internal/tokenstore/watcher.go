package tokenstore

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"happa/pkg/logging"
)

// DefaultDebounceInterval coalesces the events of one atomic save.
const DefaultDebounceInterval = 200 * time.Millisecond

// Watch calls onChange whenever the session record is created, replaced or
// removed, until ctx is cancelled. Changes made through this store trigger
// it too; callers must treat onChange as "re-read", not "someone else wrote".
// In-memory stores return immediately without watching.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	if !s.fileMode {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: atomic renames replace the file's inode.
	if err := watcher.Add(s.storageDir); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Base(s.Path())
	var (
		debounceMu    sync.Mutex
		debounceTimer *time.Timer
	)
	trigger := func() {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(DefaultDebounceInterval, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				logging.Debug("TokenStore", "Session record changed: %s (%s)", event.Name, event.Op)
				trigger()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("TokenStore", err, "fsnotify error")
			}
		}
	}()

	return nil
}
