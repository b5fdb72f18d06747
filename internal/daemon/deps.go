// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"github.com/ManuGH/stagecache/internal/command"
	"github.com/ManuGH/stagecache/internal/config"
	"github.com/ManuGH/stagecache/internal/cycle"
	"github.com/ManuGH/stagecache/internal/health"
)

// Deps carries what the manager runs and serves: the scheduler it
// drives, the health manager and metrics flag behind the ops listener,
// and the command surface it exposes. Everything else the daemon owns is
// wired into these during Bootstrap and reached through them.
type Deps struct {
	Snapshot  config.Snapshot
	Scheduler *cycle.Scheduler
	Commands  *command.Commands
	Health    *health.Manager
}

// Validate reports the first missing required dependency.
func (d Deps) Validate() error {
	if d.Scheduler == nil {
		return ErrMissingScheduler
	}
	if d.Health == nil {
		return ErrMissingHealth
	}
	if d.Commands == nil {
		return ErrMissingCommands
	}
	return nil
}
