package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsage(t *testing.T) {
	dir := t.TempDir()

	db := filepath.Join(dir, "cards.db")
	if err := os.WriteFile(db, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	index := filepath.Join(dir, "names.bleve")
	if err := os.MkdirAll(filepath.Join(index, "store"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(index, "meta"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(index, "store", "root"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"file", []string{db}, 5},
		{"directory", []string{index}, 3},
		{"file and directory", []string{db, index}, 8},
		{"missing path skipped", []string{db, filepath.Join(dir, "nope"), index}, 8},
		{"empty path skipped", []string{"", db}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsage(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DiskUsage() = %d, want %d", got, tt.want)
			}
		})
	}
}
