// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package relocate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ProbeSymlinkSupport exercises the symlink operations a relocation
// performs inside dir: create a link, rename it into place, read it
// back, remove it. A filesystem that refuses any of these cannot hold
// the relocation primitive together; startup treats that as fatal.
func ProbeSymlinkSupport(dir string) error {
	const target = "stc-probe-target"

	token := uuid.NewString()[:8]
	link := filepath.Join(dir, ".stc-probe-"+token)
	moved := link + ".swap"
	defer func() {
		_ = os.Remove(link)
		_ = os.Remove(moved)
	}()

	if err := os.Symlink(target, link); err != nil {
		return classifySymlink(err)
	}
	if err := os.Rename(link, moved); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrSymlinkUnsupported, err)
	}
	got, err := os.Readlink(moved)
	if err != nil {
		return fmt.Errorf("%w: readlink: %v", ErrSymlinkUnsupported, err)
	}
	if got != target {
		return fmt.Errorf("%w: readlink returned %q", ErrSymlinkUnsupported, got)
	}
	if err := os.Remove(moved); err != nil {
		return fmt.Errorf("remove probe link: %w", err)
	}
	return nil
}
