package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage returns the combined size in bytes of the database file and index directory paths.
// Missing or empty paths count as zero.
func DiskUsage(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
	}
	return total, nil
}
