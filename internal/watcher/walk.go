package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
)

// osLstat is a thin indirection over os.Lstat so tests could substitute it;
// kept as a plain function since no test currently needs to.
func osLstat(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

// walkDirs calls fn for root and every directory beneath it, skipping
// symlinks (spec.md §4.1: "Symlinks are not followed").
func walkDirs(root string, fn func(dir string) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return fn(p)
	})
}
