package sync

import "context"

// Engine is the coordinator surface the HTTP layer consumes. It exists so
// handlers can be tested with mock implementations.
type Engine interface {
	// SyncAccount runs one sync for the account, or fails fast with
	// ErrSyncInProgress.
	SyncAccount(ctx context.Context, accountID int64) (*Outcome, error)

	// SyncAll starts a sync for every account, one goroutine each.
	SyncAll(ctx context.Context) error

	// ResetAccount wipes the account's synced state so the next run starts
	// from scratch.
	ResetAccount(ctx context.Context, accountID int64) error

	// Syncing reports whether a run currently holds the account's lock.
	Syncing(accountID int64) bool
}

// Ensure Coordinator implements the Engine interface.
var _ Engine = (*Coordinator)(nil)
