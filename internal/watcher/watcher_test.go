package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/manasearch/internal/indexer"
)

type recordingImporter struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingImporter) ImportFile(_ context.Context, path string) (*indexer.ImportReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	if r.err != nil {
		return nil, r.err
	}
	return &indexer.ImportReport{Imported: 1}, nil
}

func (r *recordingImporter) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(nil, true, &recordingImporter{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_AddDirectoryBeforeStart(t *testing.T) {
	w := NewWatcher(nil, true, &recordingImporter{})
	if err := w.AddDirectory(t.TempDir(), false); err == nil {
		t.Error("expected an error when the watcher is not running")
	}
}

func TestWatcher_ImportsNewJSONFiles(t *testing.T) {
	dir := t.TempDir()
	imp := &recordingImporter{}
	w := NewWatcher([]string{dir}, true, imp, WithSettle(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(filepath.Join(dir, "cards.json"), `[{"name":"Shock"}]`); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "notes.txt"), "ignore me"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return hasSuffix(imp.seen(), "cards.json") })
	time.Sleep(150 * time.Millisecond)
	if hasSuffix(imp.seen(), "notes.txt") {
		t.Errorf("non-json file was imported: %v", imp.seen())
	}
}

func TestWatcher_NewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	imp := &recordingImporter{}
	w := NewWatcher([]string{dir}, true, imp, WithSettle(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "sets", "alpha")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := writeFile(filepath.Join(nested, "alpha.json"), `[]`); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return hasSuffix(imp.seen(), "alpha.json") })
}

func TestWatcher_SyncExistingSkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.json"), `[]`); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "b.JSON"), `[]`); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "readme.md"), "x"); err != nil {
		t.Fatal(err)
	}

	imp := &recordingImporter{}
	var done []string
	var mu sync.Mutex
	w := NewWatcher([]string{dir}, false, imp, WithOnImport(func(path string, _ *indexer.ImportReport, err error) {
		if err != nil {
			t.Errorf("unexpected import error: %v", err)
		}
		mu.Lock()
		done = append(done, path)
		mu.Unlock()
	}))

	ctx := context.Background()
	w.SyncExisting(ctx)
	if got := imp.seen(); len(got) != 2 {
		t.Fatalf("expected 2 imports, got %v", got)
	}

	w.SyncExisting(ctx)
	if got := imp.seen(); len(got) != 2 {
		t.Errorf("unchanged files were imported again: %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(done) != 2 {
		t.Errorf("expected 2 completion callbacks, got %v", done)
	}
}

func TestWatcher_FailedImportIsRetried(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "bad.json"), `{`); err != nil {
		t.Fatal(err)
	}
	imp := &recordingImporter{err: errors.New("decode failed")}
	w := NewWatcher([]string{dir}, true, imp)

	w.SyncExisting(context.Background())
	w.SyncExisting(context.Background())
	if got := imp.seen(); len(got) != 2 {
		t.Errorf("expected the failed file to be tried twice, got %v", got)
	}
}

func TestWatcher_NonRecursiveSyncIgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(sub, "deep.json"), `[]`); err != nil {
		t.Fatal(err)
	}
	imp := &recordingImporter{}
	w := NewWatcher([]string{dir}, false, imp)
	w.SyncExisting(context.Background())
	if got := imp.seen(); len(got) != 0 {
		t.Errorf("expected no imports, got %v", got)
	}
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := NewWatcher([]string{root}, true, &recordingImporter{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher([]string{t.TempDir()}, true, &recordingImporter{})
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestIsCardFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/cards.json", true},
		{"/a/cards.JSON", true},
		{"/a/cards.json.tmp", false},
		{"/a/cards", false},
	}
	for _, tt := range tests {
		if got := isCardFile(tt.path); got != tt.want {
			t.Errorf("isCardFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.json", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
