// Package fileutil contains filesystem helpers for baseline and artifact files.
package fileutil

import (
	"os"
	"path/filepath"
)

// EnsureDirExists checks whether the given path to a directory exists and creates
// it if necessary. Returns the absolute path that corresponds to the input path
// and an error indicating a problem.
func EnsureDirExists(dirPath string) (string, error) {
	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return "", err
	}

	return absPath, os.MkdirAll(absPath, 0700)
}

// EnsureDirPathExists creates all missing parent directories of the given file
// path, so that a subsequent write of the file can succeed.
func EnsureDirPathExists(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	_, err := EnsureDirExists(dir)
	return err
}
