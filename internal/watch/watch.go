// Package watch observes an application source tree during a development
// session. Most changes need nothing from us: the source is bind-mounted and
// the server inside the container reloads itself. A handful of files (the
// dependency manifest, the recipe, ignore rules) invalidate the image
// instead, and those surface as rebuild events.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
)

// Kind says what a filesystem change demands.
type Kind int

const (
	// KindReload needs no action here; the container's own reloader picks
	// the change up through the bind mount.
	KindReload Kind = iota
	// KindRebuild invalidates the environment: image rebuild and container
	// replacement.
	KindRebuild
)

func (k Kind) String() string {
	if k == KindRebuild {
		return "rebuild"
	}
	return "reload"
}

// Event is one debounced batch of changes, carrying the strongest Kind seen
// in the window and the path that triggered it.
type Event struct {
	Path string
	Kind Kind
}

type Watcher struct {
	logger   *slog.Logger
	dir      string
	matcher  *ignore.GitIgnore
	rebuild  map[string]bool
	debounce time.Duration

	fsw    *fsnotify.Watcher
	events chan Event
}

// New sets up recursive watches on dir. Paths matching ignorePatterns are
// skipped entirely; changes to any of rebuildPaths (relative to dir) are
// classified as rebuilds.
func New(logger *slog.Logger, dir string, ignorePatterns, rebuildPaths []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	rebuild := make(map[string]bool, len(rebuildPaths))
	for _, p := range rebuildPaths {
		rebuild[filepath.ToSlash(p)] = true
	}

	w := &Watcher{
		logger:   logger,
		dir:      dir,
		matcher:  ignore.CompileIgnoreLines(ignorePatterns...),
		rebuild:  rebuild,
		debounce: debounce,
		fsw:      fsw,
		events:   make(chan Event, 1),
	}
	if err := w.addRecursive(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events delivers debounced change events while Run is active.
func (w *Watcher) Events() <-chan Event { return w.events }

func (w *Watcher) Close() error { return w.fsw.Close() }

// addRecursive registers root and every non-ignored directory below it.
// fsnotify watches are not recursive on their own.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel := w.rel(path); rel != "." {
			if w.matcher.MatchesPath(rel) || w.matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Classify decides what a change to the given path (relative to the source
// root) demands. The second return is false for paths the session should not
// react to at all.
func (w *Watcher) Classify(rel string) (Kind, bool) {
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return KindReload, false
	}
	if w.rebuild[rel] {
		return KindRebuild, true
	}
	if w.matcher.MatchesPath(rel) {
		return KindReload, false
	}
	return KindReload, true
}

// Run pumps filesystem notifications until the context ends, coalescing
// bursts within the debounce window into single events. Editors tend to fire
// several notifications per save; one event per save is enough.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending Event
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			rel := w.rel(ev.Name)
			kind, relevant := w.Classify(rel)
			if !relevant {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				// new directories need their own watches
				if err := w.addRecursive(ev.Name); err != nil {
					w.logger.Debug("Watch new path", "path", ev.Name, "error", err)
				}
			}
			w.logger.Debug("Change detected", "path", rel, "kind", kind)
			if kind >= pending.Kind || pending.Path == "" {
				pending = Event{Path: rel, Kind: kind}
			}
			arm()

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.events <- pending:
			case <-ctx.Done():
				return ctx.Err()
			}
			pending = Event{}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}
