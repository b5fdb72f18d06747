// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tracker

import "time"

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusStaging        Status = "staging"
	StatusActive         Status = "active"
	StatusOrphaned       Status = "orphaned"
	StatusPendingRemoval Status = "pending_removal"
	StatusRemoved        Status = "removed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusStaging, StatusActive, StatusOrphaned, StatusPendingRemoval, StatusRemoved:
		return true
	}
	return false
}

// Cause operations. A list-backed entry carries "list:<name>".
const (
	CauseOnDeck     = "ondeck"
	CauseWatchlist  = "watchlist"
	CauseActive     = "active"
	CauseManual     = "manual"
	CauseRestore    = "restore"
	CauseListPrefix = "list:"
)

// Methods record how an entry came to occupy the fast tier.
// MethodAtomicCopy is the relocation primitive: copy to the fast tier,
// then swap a symlink over the logical path. MethodAdopted marks a file
// the reconciler found on the fast tier with no row of its own.
const (
	MethodAtomicCopy = "atomic_copy"
	MethodAdopted    = "adopted"
)

// Entry is the tracker's central row: one file placed on the fast tier,
// who caused it, and how it is being used.
type Entry struct {
	ID             string            `json:"id"`
	LogicalPath    string            `json:"logical_path"`
	OriginalPath   string            `json:"original_location_path"`
	FastPath       string            `json:"fast_tier_path"`
	SizeBytes      int64             `json:"size_bytes"`
	CachedAt       time.Time         `json:"cached_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int64             `json:"access_count"`
	CauseOperation string            `json:"cause_operation"`
	CauseUserID    string            `json:"cause_user_id,omitempty"`
	Attributions   []string          `json:"attributions"`
	Status         Status            `json:"status"`
	Method         string            `json:"method"`
	Checksum       string            `json:"checksum,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	RemovalReason  string            `json:"removal_reason,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Attribution names the operation and optional user behind a placement.
type Attribution struct {
	Cause  string
	UserID string
}

// UserKind classifies discovered users for activity windows.
type UserKind string

const (
	UserKindOwner     UserKind = "owner"
	UserKindHousehold UserKind = "household"
	UserKindGuest     UserKind = "guest"
)

// User is a discovered upstream account. Upstream-sourced fields are
// refreshed on every discovery; Enabled, PriorityBias and Settings are
// operator-owned and survive rediscovery.
type User struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	Kind         UserKind     `json:"kind"`
	TokenOpaque  string       `json:"-"`
	LastSeen     time.Time    `json:"last_seen"`
	Enabled      bool         `json:"enabled"`
	PriorityBias int          `json:"priority_bias"`
	Settings     UserSettings `json:"settings"`
}

// UserSettings holds per-source toggles and bounds. A zero bound means
// unbounded.
type UserSettings struct {
	OnDeck    OnDeckSettings    `json:"ondeck"`
	Watchlist WatchlistSettings `json:"watchlist"`
	Active    ActiveSettings    `json:"active"`
	Lists     ListsSettings     `json:"lists"`
}

type OnDeckSettings struct {
	Enabled       bool `json:"enabled"`
	EpisodesAhead int  `json:"episodes_ahead"`
	MaxStaleDays  int  `json:"max_stale_days"`
}

type WatchlistSettings struct {
	Enabled          bool `json:"enabled"`
	EpisodesPerShow  int  `json:"episodes_per_show"`
	MaxAvailableDays int  `json:"max_available_days"`
}

type ActiveSettings struct {
	Enabled bool `json:"enabled"`
}

type ListsSettings struct {
	Enabled bool `json:"enabled"`
}

// DefaultUserSettings enables every source with conservative bounds.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		OnDeck:    OnDeckSettings{Enabled: true, EpisodesAhead: 2},
		Watchlist: WatchlistSettings{Enabled: true, EpisodesPerShow: 1},
		Active:    ActiveSettings{Enabled: true},
		Lists:     ListsSettings{Enabled: true},
	}
}

// UserPatch mutates the operator-owned fields of a user. Nil fields are
// left unchanged.
type UserPatch struct {
	Enabled      *bool
	PriorityBias *int
	Settings     *UserSettings
}

// ListMode controls how unmatched list items are handled.
type ListMode string

const (
	ListModeStrict ListMode = "strict"
	ListModeFill   ListMode = "fill"
)

// ImportList is a configured external list feeding cache candidates.
type ImportList struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	ProviderKind   string            `json:"provider_kind"`
	ProviderConfig map[string]string `json:"provider_config,omitempty"`
	PriorityBias   int               `json:"priority_bias"`
	RefreshPeriod  time.Duration     `json:"refresh_period"`
	LastRefreshed  time.Time         `json:"last_refreshed"`
	Mode           ListMode          `json:"mode"`
	CountCap       int               `json:"count_cap"`
}

// Filter narrows Query results. Empty fields match everything; an empty
// Statuses slice matches all non-removed entries.
type Filter struct {
	Statuses     []Status
	Cause        string
	UserID       string
	PathContains string
	Limit        int
	Offset       int
}

// Page is one window of query results plus the unwindowed total.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// CacheStatistics summarizes tracker contents. TotalSizeBytes and
// FileCount cover entries whose fast file occupies the tier (active and
// pending_removal).
type CacheStatistics struct {
	TotalSizeBytes int64            `json:"total_size_bytes"`
	FileCount      int64            `json:"file_count"`
	ByStatus       map[Status]int64 `json:"by_status"`
	ByCause        map[string]int64 `json:"by_cause"`
	TotalAccesses  int64            `json:"total_accesses"`
}
