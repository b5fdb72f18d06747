// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package command is the typed command surface the daemon exposes to its
// transports. Dispatch is a closed set of methods, nothing is routed by
// name. Every mutating command names its actor, lands in the audit log
// and emits a log event on the bus; reads pass through to the tracker.
package command

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/audit"
	"github.com/ManuGH/stagecache/internal/events"
	"github.com/ManuGH/stagecache/internal/lists"
	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/metrics"
	"github.com/ManuGH/stagecache/internal/relocate"
	"github.com/ManuGH/stagecache/internal/tracker"
)

// Operator patches may bias a user's priority by at most this much in
// either direction; anything larger would cross class boundaries.
const (
	biasMin = -50
	biasMax = 50
)

// CycleTrigger queues an on-demand cycle. Implemented by
// cycle.Scheduler.
type CycleTrigger interface {
	Trigger() string
}

// ListRefresher forces and forgets list snapshots. Implemented by
// lists.Resolver.
type ListRefresher interface {
	RefreshList(ctx context.Context, id string) error
	Forget(id string)
}

// Options wires a Commands surface. Registry and Resolver may be nil
// when no import lists are configured; Sink may be nil to discard
// events; a nil Audit gets a default logger.
type Options struct {
	Store     *tracker.Store
	Relocator *relocate.Relocator
	Cycles    CycleTrigger
	Registry  *lists.Registry
	Resolver  ListRefresher
	Sink      events.Sink
	Audit     *audit.Logger
}

// Commands is the command surface. All methods are synchronous and safe
// for concurrent use.
type Commands struct {
	store    *tracker.Store
	reloc    *relocate.Relocator
	cycles   CycleTrigger
	registry *lists.Registry
	resolver ListRefresher
	sink     events.Sink
	audit    *audit.Logger
	logger   zerolog.Logger
}

// New assembles the command surface from its parts.
func New(opts Options) *Commands {
	sink := opts.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	aud := opts.Audit
	if aud == nil {
		aud = audit.NewLogger()
	}
	return &Commands{
		store:    opts.Store,
		reloc:    opts.Relocator,
		cycles:   opts.Cycles,
		registry: opts.Registry,
		resolver: opts.Resolver,
		sink:     sink,
		audit:    aud,
		logger:   log.WithComponent("command"),
	}
}

func (c *Commands) logEvent(level, msg string) {
	c.sink.Publish(events.New(events.TypeLog, events.Log{
		Level:   level,
		Message: msg,
		Source:  "command",
	}))
}

// RunCycle queues an on-demand cycle and returns its id. Idempotent
// while a cycle is queued: repeated calls return the queued id.
func (c *Commands) RunCycle(actor string) string {
	id := c.cycles.Trigger()
	c.audit.CycleTriggered(actor, id)
	c.logEvent("info", fmt.Sprintf("cycle %s queued", id))
	c.logger.Info().
		Str("event", "command.run_cycle").
		Str("actor", actor).
		Str("cycle_id", id).
		Msg("cycle queued")
	return id
}

// RemoveFile moves an entry's data back to the slow tier and releases
// the fast copy. Safe to retry: an already removed entry is a no-op, an
// interrupted earlier attempt is driven to completion, an orphaned entry
// is disposed of through repair.
func (c *Commands) RemoveFile(ctx context.Context, entryID, reason, actor string) error {
	if reason == "" {
		reason = "manual_remove"
	}
	entry, err := c.store.EntryByID(ctx, entryID)
	if err != nil {
		c.audit.FileRemoved(actor, entryID, "", reason, "failure")
		return err
	}

	var opErr error
	switch entry.Status {
	case tracker.StatusRemoved:
		// Retried call; the work is done.
	case tracker.StatusActive:
		opErr = c.reloc.RestoreFrom(ctx, entry, reason)
	case tracker.StatusOrphaned:
		_, opErr = c.reloc.RepairOrphan(ctx, entry)
	case tracker.StatusPendingRemoval:
		opErr = c.finishPending(ctx, entry)
	case tracker.StatusStaging:
		opErr = fmt.Errorf("%w: entry %s is mid-relocation", tracker.ErrConflict, entryID)
	default:
		opErr = fmt.Errorf("entry %s has unknown status %q", entryID, entry.Status)
	}

	result, level := "success", "info"
	msg := fmt.Sprintf("removed %s from fast tier", entry.LogicalPath)
	if opErr != nil {
		result, level = "failure", "error"
		msg = fmt.Sprintf("removing %s failed: %v", entry.LogicalPath, opErr)
	}
	c.audit.FileRemoved(actor, entryID, entry.LogicalPath, reason, result)
	c.logEvent(level, msg)
	return opErr
}

// finishPending completes a removal a crash interrupted. The recovery
// sweep resumes the copy-back; afterwards the entry must be terminal.
func (c *Commands) finishPending(ctx context.Context, entry *tracker.Entry) error {
	if err := c.reloc.Recover(ctx); err != nil {
		return err
	}
	after, err := c.store.EntryByID(ctx, entry.ID)
	if err != nil {
		return err
	}
	if after.Status != tracker.StatusRemoved {
		return fmt.Errorf("entry %s still %s after recovery", entry.ID, after.Status)
	}
	return nil
}

// CleanupRequest configures a Cleanup pass.
type CleanupRequest struct {
	RemoveOrphaned bool
	Actor          string
}

// CleanupResult reports what a Cleanup pass found and did.
type CleanupResult struct {
	Scanned       int `json:"scanned"`
	OrphanedFound int `json:"orphaned_found"`
	Removed       int `json:"removed"`
}

// Cleanup verifies every entry that claims fast-tier space and, when
// asked, repairs the orphans it finds. Active entries whose symlink
// chain fails verification are flagged orphaned on the spot; repair
// never discards data the fast tier is the last home of.
func (c *Commands) Cleanup(ctx context.Context, req CleanupRequest) (CleanupResult, error) {
	entries, err := c.store.EntriesInStatus(ctx, tracker.StatusActive, tracker.StatusOrphaned)
	if err != nil {
		c.audit.CleanupRun(req.Actor, "failure", 0, 0, 0)
		return CleanupResult{}, err
	}

	var res CleanupResult
	var orphans []tracker.Entry
	for i := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		e := entries[i]
		res.Scanned++
		switch e.Status {
		case tracker.StatusOrphaned:
			orphans = append(orphans, e)
		case tracker.StatusActive:
			verr := relocate.VerifyActive(&e)
			if verr == nil {
				continue
			}
			if err := c.store.MarkOrphaned(ctx, e.ID); err != nil {
				c.logger.Error().
					Str("event", "command.cleanup.mark_failed").
					Str("entry_id", e.ID).
					Err(err).
					Msg("orphan not recorded")
				continue
			}
			metrics.IncOrphan("flagged")
			c.logger.Warn().
				Str("event", "command.cleanup.orphan").
				Str("entry_id", e.ID).
				Str("logical_path", e.LogicalPath).
				Err(verr).
				Msg("active entry failed verification")
			orphans = append(orphans, e)
		}
	}
	res.OrphanedFound = len(orphans)

	if req.RemoveOrphaned {
		for i := range orphans {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if _, err := c.reloc.RepairOrphan(ctx, &orphans[i]); err != nil {
				c.logger.Error().
					Str("event", "command.cleanup.repair_failed").
					Str("entry_id", orphans[i].ID).
					Err(err).
					Msg("orphan left for the next pass")
				continue
			}
			metrics.IncOrphan("removed")
			res.Removed++
		}
	}

	c.audit.CleanupRun(req.Actor, "success", res.Scanned, res.OrphanedFound, res.Removed)
	c.logEvent("info", fmt.Sprintf("cleanup scanned %d entries, found %d orphans, removed %d",
		res.Scanned, res.OrphanedFound, res.Removed))
	c.logger.Info().
		Str("event", "command.cleanup").
		Str("actor", req.Actor).
		Int("scanned", res.Scanned).
		Int("orphaned_found", res.OrphanedFound).
		Int("removed", res.Removed).
		Msg("cleanup finished")
	return res, nil
}

// Stats returns the tracker's aggregate statistics.
func (c *Commands) Stats(ctx context.Context) (tracker.CacheStatistics, error) {
	return c.store.Stats(ctx)
}

// Query returns one page of entries matching the filter, newest first.
func (c *Commands) Query(ctx context.Context, f tracker.Filter) (tracker.Page, error) {
	return c.store.Query(ctx, f)
}

// Search matches q as a substring within scope: "path", "user", "cause"
// or "all".
func (c *Commands) Search(ctx context.Context, q, scope string, limit int, includeRemoved bool) ([]tracker.Entry, error) {
	return c.store.Search(ctx, q, scope, limit, includeRemoved)
}

// UpdateUser applies an operator patch to a user's settings and returns
// the updated user.
func (c *Commands) UpdateUser(ctx context.Context, id string, patch tracker.UserPatch, actor string) (*tracker.User, error) {
	if patch.PriorityBias != nil && (*patch.PriorityBias < biasMin || *patch.PriorityBias > biasMax) {
		err := fmt.Errorf("priority bias %d out of range [%d, %d]", *patch.PriorityBias, biasMin, biasMax)
		c.audit.UserUpdated(actor, id, "denied", map[string]string{"error": err.Error()})
		return nil, err
	}

	u, err := c.store.UpdateUser(ctx, id, patch)
	if err != nil {
		c.audit.UserUpdated(actor, id, "failure", map[string]string{"error": err.Error()})
		return nil, err
	}

	details := make(map[string]string)
	if patch.Enabled != nil {
		details["enabled"] = strconv.FormatBool(*patch.Enabled)
	}
	if patch.PriorityBias != nil {
		details["priority_bias"] = strconv.Itoa(*patch.PriorityBias)
	}
	if patch.Settings != nil {
		details["settings"] = "replaced"
	}
	c.audit.UserUpdated(actor, id, "success", details)
	c.logEvent("info", fmt.Sprintf("user %s updated", id))
	c.logger.Info().
		Str("event", "command.update_user").
		Str("actor", actor).
		Str("user_id", id).
		Msg("user settings updated")
	return u, nil
}
