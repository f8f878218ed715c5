package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Options configures the watch behaviour.
type Options struct {
	// Debounce is the per-path quiet period before an event is delivered.
	Debounce time.Duration

	// Buffer is the capacity of the returned event channel.
	Buffer int

	// Logger is used for structured logging.
	Logger *slog.Logger
}

// DefaultOptions returns sensible default watch options.
func DefaultOptions() Options {
	return Options{
		Debounce: 100 * time.Millisecond,
		Buffer:   64,
		Logger:   slog.Default(),
	}
}

// DefaultExclude lists the root-relative prefixes skipped unless the caller
// provides its own set.
var DefaultExclude = []string{"node_modules", "dist"}

// Watch starts watching root recursively and returns the stream of debounced
// change events. Events for paths under any exclude prefix (relative to
// root) are dropped. The stream is closed once ctx is cancelled and the OS
// watch handles have been released. Watch cannot be restarted; call it again
// for a new stream.
func Watch(ctx context.Context, root string, exclude []string, opts Options) (<-chan ChangeEvent, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions().Debounce
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &treeWatcher{
		root:    absRoot,
		exclude: newPrefixSet(relativeTo(absRoot, exclude)),
		fsw:     watcher,
		logger:  opts.Logger,
		out:     make(chan ChangeEvent, opts.Buffer),
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(absRoot); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching project directory: %w", err)
	}

	w.debouncer = NewDebouncer(opts.Debounce, w.emit)

	opts.Logger.Info("watching project",
		slog.String("root", absRoot),
		slog.Any("exclude", w.exclude.UnsortedList()),
		slog.Duration("debounce", opts.Debounce),
	)

	go w.loop(ctx)

	return w.out, nil
}

type treeWatcher struct {
	root      string
	exclude   prefixSet
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger
	out       chan ChangeEvent
	done      chan struct{}
}

func (w *treeWatcher) loop(ctx context.Context) {
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handle(event)

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// shutdown releases the OS handles and closes the stream. Deliveries blocked
// on a full channel are released through done before the debouncer is
// drained.
func (w *treeWatcher) shutdown() {
	close(w.done)
	w.debouncer.Stop()

	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("closing watcher", slog.String("error", err.Error()))
	}

	close(w.out)
	w.logger.Debug("watcher stopped", slog.String("root", w.root))
}

func (w *treeWatcher) handle(event fsnotify.Event) {
	if !isRelevant(event) || w.excluded(event.Name) {
		return
	}

	kind, _ := kindOf(event.Op)

	// If a new directory was created, watch it too.
	if kind == Created {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watching new directory", slog.String("path", event.Name), slog.String("error", err.Error()))
			}

			return
		}
	}

	w.debouncer.Trigger(ChangeEvent{Path: event.Name, Kind: kind, Timestamp: time.Now()})
}

func (w *treeWatcher) emit(ev ChangeEvent) {
	select {
	case w.out <- ev:
	case <-w.done:
	}
}

// addRecursive walks dir and adds every directory that is neither hidden
// nor excluded.
func (w *treeWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.root && (strings.HasPrefix(d.Name(), ".") || w.excluded(path)) {
			return filepath.SkipDir
		}

		return w.fsw.Add(path)
	})
}

func (w *treeWatcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}

	return w.exclude.matches(filepath.ToSlash(rel))
}

// relativeTo rewrites absolute prefixes relative to root. Absolute prefixes
// outside root can never match and are dropped.
func relativeTo(root string, prefixes []string) []string {
	out := make([]string, 0, len(prefixes))

	for _, p := range prefixes {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(root, p)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue
			}

			p = rel
		}

		out = append(out, p)
	}

	return out
}

// prefixSet matches slash paths against directory prefixes on segment
// boundaries, so "dist" excludes "dist/app.js" but not "distance.ts".
type prefixSet struct {
	sets.Set[string]
}

func newPrefixSet(prefixes []string) prefixSet {
	s := sets.New[string]()

	for _, p := range prefixes {
		p = strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
		if p != "" && p != "." {
			s.Insert(p)
		}
	}

	return prefixSet{s}
}

func (s prefixSet) matches(rel string) bool {
	for p := range s.Set {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}

	return false
}

// isRelevant filters out chmod-only events and editor temporary files.
func isRelevant(event fsnotify.Event) bool {
	if _, ok := kindOf(event.Op); !ok {
		return false
	}

	name := filepath.Base(event.Name)

	// Ignore editor temporary files and hidden files.
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") || strings.HasPrefix(name, "#") {
		return false
	}

	return true
}
