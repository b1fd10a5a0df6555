package core

import (
	"fmt"
	"path/filepath"
)

const Mega = 1 << 20

// ConvertToAbsolute returns an absolute path for a path given relative to a base directory.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("can't convert empty path to absolute path")
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(baseDir, path))
}
