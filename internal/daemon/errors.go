// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import "errors"

var (
	// ErrMissingScheduler indicates the cycle scheduler dependency was not provided.
	ErrMissingScheduler = errors.New("daemon: cycle scheduler is required")

	// ErrMissingHealth indicates the health manager dependency was not provided.
	ErrMissingHealth = errors.New("daemon: health manager is required")

	// ErrMissingCommands indicates the command surface dependency was not provided.
	ErrMissingCommands = errors.New("daemon: command surface is required")

	// ErrManagerNotStarted is returned by Shutdown when Start was never called.
	ErrManagerNotStarted = errors.New("daemon: manager not started")

	// ErrMissingManager indicates App.Run was called without a manager.
	ErrMissingManager = errors.New("daemon: manager is required")
)
