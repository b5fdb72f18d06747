// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package cycle runs the caching cycle: it walks the discovery phases,
// executes the policy plan through the relocator, reconciles the tracker
// against the filesystem, and journals the outcome. The scheduler wraps
// one runner in a ticker with a manual trigger.
package cycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/stagecache/internal/log"
)

// defaultResultsKeep bounds the journal when the configuration does not.
const defaultResultsKeep = 50

// PhaseTotals counts what one phase did. Scanned is phase-specific
// (sessions seen, feed items, entries verified); the relocation counters
// only move in retention, eviction and reconcile.
type PhaseTotals struct {
	Scanned  int `json:"scanned"`
	Cached   int `json:"cached"`
	Restored int `json:"restored"`
	Evicted  int `json:"evicted"`
	Orphaned int `json:"orphaned"`
	Errors   int `json:"errors"`
}

// Result is one cycle's journal record.
type Result struct {
	ID          string                 `json:"id"`
	StartedAt   time.Time              `json:"started_at"`
	EndedAt     time.Time              `json:"ended_at"`
	Aborted     bool                   `json:"aborted,omitempty"`
	AbortReason string                 `json:"abort_reason,omitempty"`
	Phases      map[string]PhaseTotals `json:"phases"`

	// Cross-phase rollups, duplicated here so a journal reader does not
	// have to sum the phase map.
	Scanned  int `json:"scanned"`
	Cached   int `json:"cached"`
	Restored int `json:"restored"`
	Evicted  int `json:"evicted"`
	Orphaned int `json:"orphaned"`
	Errors   int `json:"errors"`
}

// Duration is the wall time the cycle ran.
func (r Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// record folds one phase's totals into the result and the rollups.
func (r *Result) record(phase string, t PhaseTotals) {
	if r.Phases == nil {
		r.Phases = make(map[string]PhaseTotals)
	}
	r.Phases[phase] = t
	r.Scanned += t.Scanned
	r.Cached += t.Cached
	r.Restored += t.Restored
	r.Evicted += t.Evicted
	r.Orphaned += t.Orphaned
	r.Errors += t.Errors
}

// Journal persists cycle results as one JSON file per cycle and keeps
// only the newest N. File names sort lexically by start time, so prune
// and Recent never have to parse file contents to order them.
type Journal struct {
	dir    string
	keep   int
	logger zerolog.Logger
}

// NewJournal stores results under dir, keeping at most keep files.
func NewJournal(dir string, keep int) *Journal {
	if keep < 1 {
		keep = defaultResultsKeep
	}
	return &Journal{dir: dir, keep: keep, logger: log.WithComponent("cycle")}
}

// Write journals one result atomically, then prunes the oldest files
// beyond the retention count.
func (j *Journal) Write(res Result) error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	path := filepath.Join(j.dir, journalName(res))

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending journal file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			j.logger.Debug().Err(err).Msg("journal temp cleanup failed")
		}
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode cycle result: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit cycle result: %w", err)
	}
	j.prune()
	return nil
}

// Recent returns up to n results, newest first. Unreadable files are
// skipped with a log line rather than failing the whole read; a corrupt
// journal entry should not hide the healthy ones.
func (j *Journal) Recent(n int) ([]Result, error) {
	names, err := j.sortedNames()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if n < 1 {
		n = j.keep
	}

	var out []Result
	for i := len(names) - 1; i >= 0 && len(out) < n; i-- {
		path := filepath.Join(j.dir, names[i])
		raw, err := os.ReadFile(path)
		if err != nil {
			j.logger.Warn().Str("file", names[i]).Err(err).Msg("skipping unreadable cycle result")
			continue
		}
		var res Result
		if err := json.Unmarshal(raw, &res); err != nil {
			j.logger.Warn().Str("file", names[i]).Err(err).Msg("skipping corrupt cycle result")
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// prune deletes the oldest journal files beyond the retention count.
func (j *Journal) prune() {
	names, err := j.sortedNames()
	if err != nil || len(names) <= j.keep {
		return
	}
	for _, name := range names[:len(names)-j.keep] {
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil {
			j.logger.Warn().Str("file", name).Err(err).Msg("pruning old cycle result failed")
		}
	}
}

// sortedNames lists journal files oldest first.
func (j *Journal) sortedNames() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// journalName builds a lexically sortable file name from the cycle's
// start time, disambiguated by the cycle ID.
func journalName(res Result) string {
	return res.StartedAt.UTC().Format("20060102T150405.000000000Z") + "-" + res.ID + ".json"
}
