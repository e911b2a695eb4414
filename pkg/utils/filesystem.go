// Package utils provides small filesystem helpers used by the on-disk
// action memory store.
package utils

import (
	"fmt"
	"os"
)

// EnsureDir creates dir (and any missing parents) if it doesn't already
// exist, matching the permission mode the on-disk stores write files under.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
