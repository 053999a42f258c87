package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir expands path, including a leading "~", and creates the directory
// when it does not exist.
func EnsureDir(path string) (string, error) {
	path, err := Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %s", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %s", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		if err := os.MkdirAll(absPath, 0750); err != nil {
			return "", fmt.Errorf("failed to create dir: %s", err)
		}
	}

	return absPath, nil
}
