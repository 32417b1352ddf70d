// Package watcher imports card files dropped into watched directories.
//
// Only .json files are considered. Created or rewritten files are imported after a short
// settle delay so half-written files are not read; deleting a file never removes cards.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/manasearch/internal/indexer"
)

const defaultSettle = 400 * time.Millisecond

// Importer loads one card file into the catalog.
type Importer interface {
	ImportFile(ctx context.Context, path string) (*indexer.ImportReport, error)
}

// ImportFunc adapts a plain function to Importer.
type ImportFunc func(ctx context.Context, path string) (*indexer.ImportReport, error)

// ImportFile calls f.
func (f ImportFunc) ImportFile(ctx context.Context, path string) (*indexer.ImportReport, error) {
	return f(ctx, path)
}

// stamp identifies a file version; an unchanged stamp means the file was already imported.
type stamp struct {
	size    int64
	modTime time.Time
}

// Watcher imports .json card files from a set of root directories.
type Watcher struct {
	importer  Importer
	recursive bool
	settle    time.Duration
	logger    *zap.Logger
	onDone    func(path string, report *indexer.ImportReport, err error)

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	roots    []string
	watched  map[string][]string // root -> directories registered with fsnotify
	timers   map[string]*time.Timer
	imported map[string]stamp
	ctx      context.Context
	cancel   context.CancelFunc

	importMu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithSettle sets how long a file must stay quiet before it is imported.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithOnImport registers a callback run after every import attempt.
func WithOnImport(fn func(path string, report *indexer.ImportReport, err error)) Option {
	return func(w *Watcher) { w.onDone = fn }
}

// NewWatcher creates a watcher over roots. Nothing is watched until Start.
func NewWatcher(roots []string, recursive bool, importer Importer, opts ...Option) *Watcher {
	w := &Watcher{
		importer:  importer,
		recursive: recursive,
		settle:    defaultSettle,
		logger:    zap.NewNop(),
		watched:   make(map[string][]string),
		timers:    make(map[string]*time.Timer),
		imported:  make(map[string]stamp),
	}
	for _, root := range roots {
		if abs, err := filepath.Abs(root); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers every root with fsnotify, creating missing roots, and processes events until
// ctx is cancelled or Stop is called. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := w.watchRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("watching import directories", zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.run(w.ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.underRoot(ev.Name) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			w.handleNewDirectory(ev.Name)
		}
		return
	}
	if isCardFile(ev.Name) {
		w.schedule(ev.Name)
	}
}

// handleNewDirectory starts watching a directory that appeared under a root and imports
// the card files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	root := w.rootOfLocked(dir)
	dirs, err := w.addDirsLocked(dir)
	if err != nil {
		w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
	}
	if root != "" {
		w.watched[root] = append(w.watched[root], dirs...)
	}
	w.mu.Unlock()

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && isCardFile(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	ctx := w.ctx
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.importPath(ctx, path)
	})
}

// importPath imports one file unless the same version was imported before. Imports never
// run concurrently.
func (w *Watcher) importPath(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	st := stamp{size: info.Size(), modTime: info.ModTime()}

	w.importMu.Lock()
	defer w.importMu.Unlock()

	w.mu.Lock()
	prev, seen := w.imported[path]
	w.mu.Unlock()
	if seen && prev == st {
		w.logger.Debug("card file unchanged, skipping", zap.String("path", path))
		return
	}

	report, err := w.importer.ImportFile(ctx, path)
	if err != nil {
		w.logger.Error("card file import failed", zap.String("path", path), zap.Error(err))
	} else {
		w.mu.Lock()
		w.imported[path] = st
		w.mu.Unlock()
		w.logger.Info("card file imported",
			zap.String("path", path),
			zap.Int("imported", report.Imported),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	if w.onDone != nil {
		w.onDone(path, report, err)
	}
}

// AddDirectory starts watching another root. With syncExisting, card files already in it are
// imported in the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)

	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return errors.New("watcher is not running")
	}
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if err := w.watchRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, abs)
	ctx := w.ctx
	w.mu.Unlock()

	w.logger.Info("import directory added", zap.String("path", abs))
	if syncExisting {
		go w.syncRoot(ctx, abs)
	}
	return nil
}

// RemoveDirectory stops watching root. Cards already imported from it stay in the catalog.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.fsw != nil {
		for _, dir := range w.watched[abs] {
			_ = w.fsw.Remove(dir)
		}
	}
	delete(w.watched, abs)
	for path, t := range w.timers {
		if inDir(abs, path) {
			t.Stop()
			delete(w.timers, path)
		}
	}
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("import directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExisting imports every card file already present under the roots and returns once all
// of them have been tried.
func (w *Watcher) SyncExisting(ctx context.Context) {
	for _, root := range w.Directories() {
		w.syncRoot(ctx, root)
	}
}

func (w *Watcher) syncRoot(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if isCardFile(path) {
			w.importPath(ctx, path)
		}
		return nil
	})
}

// Stop cancels pending imports and closes the fsnotify watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.cancel()
	_ = w.fsw.Close()
	w.fsw = nil
}

func (w *Watcher) watchRootLocked(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	dirs, err := w.addDirsLocked(root)
	if err != nil {
		return err
	}
	w.watched[root] = dirs
	return nil
}

// addDirsLocked registers dir, and its subdirectories when recursive, with fsnotify.
func (w *Watcher) addDirsLocked(dir string) ([]string, error) {
	if !w.recursive {
		if err := w.fsw.Add(dir); err != nil {
			return nil, err
		}
		return []string{dir}, nil
	}
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOfLocked(path) != ""
}

func (w *Watcher) rootOfLocked(path string) string {
	path = filepath.Clean(path)
	for _, root := range w.roots {
		if inDir(root, path) {
			return root
		}
	}
	return ""
}

func isCardFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
