package sync

import "sync"

// lockTable grants at most one holder per account id, with try semantics:
// contenders are rejected, never queued. One table guards sync runs, resets,
// and token refreshes, which keeps all three at-most-one invariants in a
// single place.
type lockTable struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[int64]struct{})}
}

// TryLock acquires the account's lock if it is free and reports whether it did.
func (lt *lockTable) TryLock(accountID int64) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if _, taken := lt.held[accountID]; taken {
		return false
	}
	lt.held[accountID] = struct{}{}
	return true
}

// Unlock releases the account's lock.
func (lt *lockTable) Unlock(accountID int64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	delete(lt.held, accountID)
}

// Locked reports whether the account's lock is currently held.
func (lt *lockTable) Locked(accountID int64) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, taken := lt.held[accountID]
	return taken
}
