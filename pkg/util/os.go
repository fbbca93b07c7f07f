package util

import (
	"os"
	"path/filepath"
)

const (
	// the owner can make/remove files inside the directory
	privateDirMode = 0700
)

// Exist reports whether path exists.
func Exist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateDir creates dirpath and its parents with owner-only permissions.
// An existing directory is not an error.
func CreateDir(dirpath string) error {
	return os.MkdirAll(dirpath, privateDirMode)
}

// EnsureParentDir creates the directory that will hold file.
func EnsureParentDir(file string) error {
	dir := filepath.Dir(file)
	if dir == "." || Exist(dir) {
		return nil
	}
	return CreateDir(dir)
}
