package source

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuietPeriod is how long a file must go without writes before it is reported.
const DefaultQuietPeriod = 500 * time.Millisecond

// Watcher reports record files that appear or change in a directory.
type Watcher struct {
	watcher    *fsnotify.Watcher
	dir        string
	extensions []string
	quiet      time.Duration
	logger     *slog.Logger
}

// NewWatcher creates a watcher for dir. Files whose extension is not in
// extensions are ignored; an empty list watches .jsonl and .jsonl.gz files.
func NewWatcher(dir string, extensions []string, quiet time.Duration, logger *slog.Logger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "watch", Path: dir, Err: os.ErrInvalid}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = []string{".jsonl", ".jsonl.gz"}
	}
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher:    w,
		dir:        dir,
		extensions: extensions,
		quiet:      quiet,
		logger:     logger,
	}, nil
}

// Existing lists the matching files already present in the directory, sorted by name.
func (w *Watcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && w.isWatched(entry.Name()) {
			paths = append(paths, filepath.Join(w.dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Watch emits the path of every matching file that is created or written,
// once it has been quiet for the configured period. The channel closes when
// ctx is done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context) (<-chan string, error) {
	if err := w.watcher.Add(w.dir); err != nil {
		return nil, err
	}

	paths := make(chan string, 100)

	go func() {
		defer close(paths)

		pending := map[string]time.Time{}
		ticker := time.NewTicker(w.quiet / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.isWatched(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					pending[event.Name] = time.Now()
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					delete(pending, event.Name)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "dir", w.dir, "err", err)
			case now := <-ticker.C:
				var ready []string
				for path, last := range pending {
					if now.Sub(last) >= w.quiet {
						ready = append(ready, path)
					}
				}
				sort.Strings(ready)
				for _, path := range ready {
					delete(pending, path)
					select {
					case paths <- path:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return paths, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) isWatched(path string) bool {
	name := filepath.Base(path)
	for _, ext := range w.extensions {
		if len(name) > len(ext) && strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
