// Package watch triggers pipeline re-runs when files under the target trees
// change. Events are debounced so a burst of editor writes becomes one run,
// and churn from the pipeline's own rewriting steps is drained after each
// run instead of re-triggering it.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last event before
// triggering.
const DefaultDebounce = 500 * time.Millisecond

// defaultIgnoreDirs are directory names that only ever contain tool output.
var defaultIgnoreDirs = []string{
	".git",
	"__pycache__",
	".mypy_cache",
	".pytest_cache",
	".tox",
	"htmlcov",
	".coverage",
	"node_modules",
}

// Config configures a Watcher.
type Config struct {
	// Dirs are the root directories to watch recursively.
	Dirs []string

	// Debounce is the quiet period before a trigger (default DefaultDebounce).
	Debounce time.Duration

	// IgnoreDirs extends the built-in list of directory names to skip.
	IgnoreDirs []string
}

// Watcher debounces filesystem events into pipeline triggers.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   map[string]struct{}
}

// New creates a watcher over the configured directory trees. Directories
// that do not exist are skipped silently; a checkout without an examples
// tree is not an error.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ignore := make(map[string]struct{})
	for _, d := range defaultIgnoreDirs {
		ignore[d] = struct{}{}
	}
	for _, d := range cfg.IgnoreDirs {
		ignore[d] = struct{}{}
	}

	w := &Watcher{fsw: fsw, debounce: debounce, ignore: ignore}

	for _, dir := range cfg.Dirs {
		if err := w.addRecursive(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	return w, nil
}

// Run blocks, invoking trigger after each debounced burst of changes.
// Triggers run serially; events arriving while trigger executes (including
// the rewriting tools' own writes) are drained afterwards so a run does not
// schedule its own successor. Run returns when ctx is canceled.
func (w *Watcher) Run(ctx context.Context, trigger func(context.Context)) error {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.skip(event) {
				continue
			}
			// New directories need watching too.
			if event.Op.Has(fsnotify.Create) {
				_ = w.addRecursive(event.Name)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch: %w", err)

		case <-timerC:
			timer = nil
			timerC = nil
			trigger(ctx)
			w.drain()
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}

// skip filters events from ignored directories and pure-chmod noise.
func (w *Watcher) skip(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(event.Name), "/") {
		if w.ignoredDir(part) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignoredDir(name string) bool {
	_, ok := w.ignore[name]
	return ok
}

// drain discards events queued while a trigger ran.
func (w *Watcher) drain() {
	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
