// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultProbeTimeout = 2 * time.Second

// WritableDirChecker probes that a directory exists and accepts writes.
// Used for the fast tier and the data directory.
type WritableDirChecker struct {
	name string
	dir  string
}

func NewWritableDirChecker(name, dir string) *WritableDirChecker {
	return &WritableDirChecker{name: name, dir: dir}
}

func (c *WritableDirChecker) Name() string { return c.name }

func (c *WritableDirChecker) Check(context.Context) CheckResult {
	info, err := os.Stat(c.dir)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.dir}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "not a directory", Message: c.dir}
	}

	probe := filepath.Join(c.dir, ".stc-health")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "not writable"}
	}
	_ = os.Remove(probe)

	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

// ProbeChecker wraps a probe function, bounding each call so a hung
// dependency cannot stall the probe endpoints. The tracker ping and the
// upstream reachability check both ride this.
type ProbeChecker struct {
	name    string
	timeout time.Duration
	probe   func(ctx context.Context) error
}

// NewProbeChecker builds a checker around probe. A non-positive timeout
// falls back to 2s.
func NewProbeChecker(name string, timeout time.Duration, probe func(ctx context.Context) error) *ProbeChecker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &ProbeChecker{name: name, timeout: timeout, probe: probe}
}

func (c *ProbeChecker) Name() string { return c.name }

func (c *ProbeChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.probe(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok"}
}

// LastCycleChecker reports on the most recent cycle via a getter
// returning its end time and, for failed runs, a note. It never grades
// worse than degraded: a daemon that cannot cycle still serves the
// files it already cached.
type LastCycleChecker struct {
	getLast func() (time.Time, string)
	maxAge  time.Duration
}

func NewLastCycleChecker(getLast func() (time.Time, string), maxAge time.Duration) *LastCycleChecker {
	return &LastCycleChecker{getLast: getLast, maxAge: maxAge}
}

func (c *LastCycleChecker) Name() string { return "last_cycle" }

func (c *LastCycleChecker) Check(context.Context) CheckResult {
	last, note := c.getLast()

	if last.IsZero() {
		return CheckResult{Status: StatusDegraded, Message: "no cycle completed yet"}
	}
	if note != "" {
		return CheckResult{Status: StatusDegraded, Message: note}
	}
	if age := time.Since(last); c.maxAge > 0 && age > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("last cycle finished %s ago", age.Round(time.Second)),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "last cycle clean"}
}

// Informational caps a checker's result at degraded so an optional
// dependency informs the status without failing readiness.
func Informational(c Checker) Checker { return informational{inner: c} }

type informational struct {
	inner Checker
}

func (i informational) Name() string { return i.inner.Name() }

func (i informational) Check(ctx context.Context) CheckResult {
	res := i.inner.Check(ctx)
	if res.Status == StatusUnhealthy {
		res.Status = StatusDegraded
	}
	return res
}
