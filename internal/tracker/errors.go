// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import "errors"

var (
	// ErrNotFound reports that no row matches the given id or path.
	ErrNotFound = errors.New("tracker: not found")

	// ErrConflict reports a state transition the lifecycle does not allow,
	// or a uniqueness violation such as a duplicate list name.
	ErrConflict = errors.New("tracker: conflict")
)
