package syncengine

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oneclicksftp/sftpsyncd/internal/ignore"
)

// scanLocal walks root and returns a Snapshot of every regular file not
// excluded by rules. Symlinks are never followed (neither into directories
// nor as files), matching spec.md §4.1/§6.4.
func scanLocal(root string, rules *ignore.Rules) (Snapshot, error) {
	snap := make(Snapshot)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return nil
			}
			return err
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if rules.ShouldIgnore(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if rules.ShouldIgnore(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		snap[rel] = FileMeta{
			MTime: float64(info.ModTime().UnixNano()) / 1e9,
			Size:  info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
