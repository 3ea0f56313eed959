package dataset

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
)

// DefaultDebounce is how long Watch waits after the last event before
// reporting a change.
const DefaultDebounce = 200 * time.Millisecond

// Watch calls onChange with the set of changed files whenever one of
// paths is created, written, renamed or removed, until ctx is done. The
// parent directories are watched, so editors that save by renaming a
// temporary file are seen. Bursts of events within debounce collapse into
// one call; a zero debounce uses DefaultDebounce.
func (l *Loader) Watch(ctx context.Context, paths []string, debounce time.Duration, onChange func(changed []string)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return exoerr.Wrap(err, exoerr.CodeDatasetWatchFailure, "create watcher")
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return exoerr.Wrap(err, exoerr.CodeDatasetWatchFailure, "resolve path", exoerr.Field("path", path))
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return exoerr.Wrap(err, exoerr.CodeDatasetWatchFailure, "watch directory", exoerr.Field("dir", dir))
		}
	}
	l.logger.Info("watching datasets", "files", len(watched), "dirs", len(dirs))

	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !watched[name] {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			l.logger.Debug("dataset changed", "path", name, "op", event.Op.String())
			pending[name] = true
			timer.Reset(debounce)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			clear(pending)
			sort.Strings(changed)
			if len(changed) > 0 {
				onChange(changed)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("dataset watcher error", "error", err)
		}
	}
}
