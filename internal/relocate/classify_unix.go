// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !windows

package relocate

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// classifyFastWrite maps a fast-tier write failure onto the engine's
// error vocabulary. ENOSPC gets its own sentinel so the planner can
// tell a full tier from a broken one.
func classifyFastWrite(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrFastFull, err)
	}
	return fmt.Errorf("%w: %v", ErrWrite, err)
}

// classifySymlink distinguishes a filesystem that refuses symlinks
// outright (SMB mounts, some FUSE layers) from an ordinary write error.
func classifySymlink(err error) error {
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EOPNOTSUPP) {
		return fmt.Errorf("%w: %v", ErrSymlinkUnsupported, err)
	}
	return fmt.Errorf("%w: %v", ErrWrite, err)
}

// preserveOwner copies uid/gid from info onto path. Best effort: the
// daemon usually runs unprivileged, where chown to a foreign owner is
// not permitted.
func preserveOwner(path string, info os.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	_ = os.Chown(path, int(st.Uid), int(st.Gid))
}
