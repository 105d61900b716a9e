package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// privateDirMode is used for directories holding pool state. The ledger
// records process IDs of other users' test runs otherwise.
const privateDirMode os.FileMode = 0o700

// EnsureDir creates path and any missing parents with mode perm. An
// existing directory is left as is, whatever its mode.
func EnsureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnsureDirForFile creates the parent directory of filePath, readable only
// by the current user, so the file can be created.
func EnsureDirForFile(filePath string) error {
	return EnsureDir(filepath.Dir(filePath), privateDirMode)
}

// Exists reports whether path names an existing regular file. Symlinks are
// followed.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
