// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fs

import (
	"fmt"
	"os"
)

// SyncDir fsyncs a directory so a preceding rename in it survives power loss.
func SyncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- dir comes from validated tier roots
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
