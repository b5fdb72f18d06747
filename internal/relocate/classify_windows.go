// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package relocate

import (
	"fmt"
	"os"
)

func classifyFastWrite(err error) error {
	return fmt.Errorf("%w: %v", ErrWrite, err)
}

func classifySymlink(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %v", ErrSymlinkUnsupported, err)
	}
	return fmt.Errorf("%w: %v", ErrWrite, err)
}

func preserveOwner(string, os.FileInfo) {}
