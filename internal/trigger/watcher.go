package trigger

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/vault"
)

// DefaultDebounce is how long a path must stay quiet before its change is
// reported. Editors save in bursts (temp file, rename, chmod).
const DefaultDebounce = 250 * time.Millisecond

// Locator maps filesystem paths onto the vault. *vault.Vault implements it.
type Locator interface {
	Root() string
	Folder() string
	Rel(fsPath string) (string, bool)
	InFolder(p string) bool
}

// Watcher turns filesystem events under the scenes folder into
// document-change triggers, one per settled path. It can also watch the
// configuration file and call back when it changes.
//
// fsnotify is not recursive: every folder below the scenes folder is added
// at start, and folders created later are added as they appear. Hidden
// entries (".obsidian", ".trash", the vault's own temp files) are ignored.
type Watcher struct {
	fs       *fsnotify.Watcher
	loc      Locator
	sink     Enqueuer
	debounce time.Duration
	now      func() time.Time

	configPath string
	onConfig   func()

	// Owned by Run.
	pending  map[string]time.Time
	configAt time.Time

	closeOnce sync.Once
	closeErr  error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period per path.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithConfigFile watches path and calls onChange, debounced, whenever it is
// written or replaced.
func WithConfigFile(path string, onChange func()) WatcherOption {
	return func(w *Watcher) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		w.configPath = filepath.Clean(path)
		w.onConfig = onChange
	}
}

// NewWatcher starts watching the scenes folder of loc. Events are not
// processed until Run is called.
func NewWatcher(loc Locator, sink Enqueuer, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		loc:      loc,
		sink:     sink,
		debounce: DefaultDebounce,
		now:      time.Now,
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := w.watchTree(loc.Root()); err != nil {
		fw.Close()
		return nil, err
	}
	if w.configPath != "" {
		// Watch the directory: editors replace files by rename, which drops a
		// watch on the file itself.
		if err := w.add(filepath.Dir(w.configPath)); err != nil {
			fw.Close()
			return nil, err
		}
	}
	slog.Info("watching scenes", "root", loc.Root(), "folder", loc.Folder())
	return w, nil
}

// Run processes events until ctx is cancelled or the intake closes, then
// releases the watcher. It returns nil in both cases.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)

		case <-ticker.C:
			if !w.flush() {
				return nil
			}
		}
	}
}

// Close releases the underlying watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fs.Close()
	})
	return w.closeErr
}

func (w *Watcher) tick() time.Duration {
	return min(max(w.debounce/2, 5*time.Millisecond), 100*time.Millisecond)
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.configPath != "" && filepath.Clean(ev.Name) == w.configPath {
		if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
			w.configAt = w.now()
		}
		return
	}

	// Removals and the old half of a rename have nothing left to reconcile;
	// the new name arrives as a Create.
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	rel, ok := w.loc.Rel(ev.Name)
	if !ok || hiddenPath(rel) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			docs, err := w.watchTree(ev.Name)
			if err != nil {
				slog.Warn("watch new folder failed", "path", rel, "error", err)
			}
			// Files can land before the watch does.
			at := w.now()
			for _, d := range docs {
				w.pending[d] = at
			}
			return
		}
	}

	if !w.loc.InFolder(rel) || !isDocument(rel) {
		return
	}
	w.pending[rel] = w.now()
}

// flush enqueues every path that has been quiet for the debounce period,
// in path order. It returns false once the intake is closed.
func (w *Watcher) flush() bool {
	now := w.now()

	var due []string
	for p, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			due = append(due, p)
			delete(w.pending, p)
		}
	}
	sort.Strings(due)
	for _, p := range due {
		slog.Debug("document changed", "path", p)
		if !w.sink.Enqueue(engine.Trigger{Source: engine.TriggerDocumentChange, Path: p}) {
			return false
		}
	}

	if !w.configAt.IsZero() && now.Sub(w.configAt) >= w.debounce {
		w.configAt = time.Time{}
		slog.Info("configuration changed", "path", w.configPath)
		if w.onConfig != nil {
			w.onConfig()
		}
	}
	return true
}

// watchTree adds dir and every folder below it that is in, or leads to, the
// scenes folder. It returns the vault paths of the documents it passed.
func (w *Watcher) watchTree(dir string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			slog.Warn("watch walk failed", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, ok := w.loc.Rel(p)
		if !ok {
			return nil
		}

		inFolder := w.loc.InFolder(rel)
		if d.IsDir() {
			if !inFolder && !w.leadsToFolder(rel) {
				return filepath.SkipDir
			}
			return w.add(p)
		}
		if inFolder && isDocument(rel) {
			docs = append(docs, rel)
		}
		return nil
	})
	return docs, err
}

// leadsToFolder reports whether rel is an ancestor of the scenes folder.
// Ancestors are watched so a scenes folder created later is noticed.
func (w *Watcher) leadsToFolder(rel string) bool {
	folder := vault.Normalize(w.loc.Folder())
	return folder != "" && (rel == "" || strings.HasPrefix(folder, rel+"/"))
}

func (w *Watcher) add(dir string) error {
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Debug("watching folder", "dir", dir)
	return nil
}

func isDocument(p string) bool {
	return strings.EqualFold(filepath.Ext(p), vault.DocumentExt)
}

func hiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
