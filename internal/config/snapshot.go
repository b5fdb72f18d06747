// SPDX-License-Identifier: MIT

package config

import "path/filepath"

// Snapshot is the immutable, effective runtime configuration handed to each
// cycle. It combines the validated AppConfig with the derived filesystem
// layout under DataDir.
type Snapshot struct {
	App   AppConfig
	Paths PathsRuntime
}

// PathsRuntime is the persistent state layout derived from DataDir.
type PathsRuntime struct {
	TrackerDB string // sqlite tracker database
	LockFile  string // instance lock
	CyclesDir string // most-recent-N cycle result documents
	KVDir     string // badger token/match cache
	LogFile   string // rotating log target, empty for stdout-only
}

// BuildSnapshot builds an effective, immutable runtime snapshot from an
// already validated AppConfig.
func BuildSnapshot(app AppConfig) Snapshot {
	clone := app.Clone()
	return Snapshot{
		App: clone,
		Paths: PathsRuntime{
			TrackerDB: filepath.Join(clone.DataDir, "stagecache.db"),
			LockFile:  filepath.Join(clone.DataDir, "stagecache.lock"),
			CyclesDir: filepath.Join(clone.DataDir, "cycles"),
			KVDir:     filepath.Join(clone.DataDir, "cache"),
			LogFile:   clone.LogFile,
		},
	}
}
