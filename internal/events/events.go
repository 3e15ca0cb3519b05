// Package events carries sync progress from the coordinator to observers
// (WebSocket clients, the auto-sync scheduler, tests). Events for one account
// are published from that account's single sync goroutine, so subscribers see
// them in emission order.
package events

import (
	"time"
)

// Status is the lifecycle stage of a sync run.
type Status string

const (
	// StatusStarting is published exactly once, before the first fetch.
	StatusStarting Status = "starting"
	// StatusSyncing is published after each message attempt, stored or skipped.
	StatusSyncing Status = "syncing"
	// StatusCompleted is the successful terminal event. Skipped reports how
	// many messages failed individually without failing the run.
	StatusCompleted Status = "completed"
	// StatusFailed is the terminal event for a run that aborted.
	StatusFailed Status = "failed"
)

// Event is one progress update for one account's sync run. Every run ends in
// exactly one terminal (completed or failed) event; every run that got as far
// as a pending range also emitted exactly one starting event first, with zero
// or more syncing events in between.
type Event struct {
	RunID     string    `json:"run_id"`
	AccountID int64     `json:"account_id"`
	Email     string    `json:"email"`
	Status    Status    `json:"status"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Skipped   int       `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends its run.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}
