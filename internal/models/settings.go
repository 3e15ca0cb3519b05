package models

import "time"

// UnboundedSyncThreshold is the max_sync_count sentinel: values at or above it
// mean "fetch the entire pending range".
const UnboundedSyncThreshold = 999999

// SyncSettings is the global sync policy, stored as a singleton row. It is read
// once at the start of each sync run and injected into that run; changing it
// never affects a run already in flight.
type SyncSettings struct {
	MaxSyncCount        int       `json:"max_sync_count"`
	AutoSyncEnabled     bool      `json:"auto_sync_enabled"`
	SyncIntervalMinutes int       `json:"sync_interval_minutes"`
	SyncAttachments     bool      `json:"sync_attachments"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Unbounded reports whether the max_sync_count sentinel is set.
func (s SyncSettings) Unbounded() bool {
	return s.MaxSyncCount >= UnboundedSyncThreshold
}

// UpdateSyncSettingsRequest is the payload for the settings update endpoint.
type UpdateSyncSettingsRequest struct {
	MaxSyncCount        int  `json:"max_sync_count"`
	AutoSyncEnabled     bool `json:"auto_sync_enabled"`
	SyncIntervalMinutes int  `json:"sync_interval_minutes"`
	SyncAttachments     bool `json:"sync_attachments"`
}
