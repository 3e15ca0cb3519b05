package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/mailsync/internal/credentials"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

const (
	// watcherReconcile is how often the watcher re-reads accounts and settings.
	watcherReconcile = time.Minute
	// watcherBackoff is the pause after a transient watch failure.
	watcherBackoff = 10 * time.Second
	// watcherAuthBackoff is the pause after an auth failure, which will not
	// fix itself quickly and should not hammer the token endpoint.
	watcherAuthBackoff = 5 * time.Minute
)

// Watcher keeps an IDLE session open per account while auto-sync is enabled
// and triggers a sync as soon as the server reports new mail, so inboxes stay
// fresher than the periodic interval alone would allow.
type Watcher struct {
	pool        *pgxpool.Pool
	coordinator *Coordinator
	watching    map[int64]context.CancelFunc
}

// NewWatcher creates a watcher bound to the coordinator.
func NewWatcher(pool *pgxpool.Pool, coordinator *Coordinator) *Watcher {
	return &Watcher{
		pool:        pool,
		coordinator: coordinator,
		watching:    make(map[int64]context.CancelFunc),
	}
}

// Run blocks until the context is canceled, reconciling one watch goroutine
// per account.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("sync: watcher started")
	ticker := time.NewTicker(watcherReconcile)
	defer ticker.Stop()

	w.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			log.Printf("sync: watcher stopped")
			return
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *Watcher) reconcile(ctx context.Context) {
	settings, err := db.GetSyncSettings(ctx, w.pool)
	if err != nil {
		log.Printf("sync: watcher could not read settings: %v", err)
		return
	}
	if !settings.AutoSyncEnabled {
		w.stopAll()
		return
	}

	accounts, err := db.ListAccounts(ctx, w.pool)
	if err != nil {
		log.Printf("sync: watcher could not list accounts: %v", err)
		return
	}

	current := make(map[int64]bool, len(accounts))
	for _, account := range accounts {
		current[account.ID] = true
		if _, running := w.watching[account.ID]; running {
			continue
		}
		watchCtx, cancel := context.WithCancel(ctx)
		w.watching[account.ID] = cancel
		go w.watchAccount(watchCtx, account.ID)
	}

	for id, cancel := range w.watching {
		if !current[id] {
			cancel()
			delete(w.watching, id)
		}
	}
}

func (w *Watcher) stopAll() {
	for id, cancel := range w.watching {
		cancel()
		delete(w.watching, id)
	}
}

func (w *Watcher) watchAccount(ctx context.Context, accountID int64) {
	log.Printf("sync: watching account %d for new mail", accountID)
	for ctx.Err() == nil {
		err := w.watchOnce(ctx, accountID)
		if err == nil || ctx.Err() != nil {
			continue
		}

		backoff := watcherBackoff
		if isAuthFailure(err) {
			backoff = watcherAuthBackoff
		}
		log.Printf("sync: watcher for account %d: %v (retrying in %s)", accountID, err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// watchOnce opens one IDLE session and waits for a single wake, then runs a
// sync. The session is never reused for the sync itself.
func (w *Watcher) watchOnce(ctx context.Context, accountID int64) error {
	account, err := db.GetAccount(ctx, w.pool, accountID)
	if err != nil {
		return err
	}

	material, err := w.lockedCredentials(ctx, account)
	if err != nil {
		return err
	}

	session, err := imap.Connect(account.IMAPHost, account.IMAPPort, account.IMAPTLS)
	if err != nil {
		return err
	}
	if err := session.Authenticate(material); err != nil {
		return err
	}
	if _, err := session.SelectFolder(syncFolder); err != nil {
		session.Logout()
		return err
	}

	err = session.WaitForUpdates(ctx)
	session.Logout()
	if err != nil {
		return err
	}

	log.Printf("sync: account %s has new mail", account.Email)
	if _, err := w.coordinator.SyncAccount(ctx, accountID); errors.Is(err, ErrSyncInProgress) {
		log.Printf("sync: account %s already syncing, wake coalesced", account.Email)
	}
	return nil
}

// lockedCredentials resolves credentials under the account lock, so a token
// refresh here can never race one inside a sync run.
func (w *Watcher) lockedCredentials(ctx context.Context, account *models.Account) (models.AuthMaterial, error) {
	if !w.coordinator.locks.TryLock(account.ID) {
		return models.AuthMaterial{}, fmt.Errorf("%w: account %d", ErrSyncInProgress, account.ID)
	}
	defer w.coordinator.locks.Unlock(account.ID)

	return w.coordinator.credentials.CredentialsFor(ctx, account)
}

func isAuthFailure(err error) bool {
	return errors.Is(err, credentials.ErrAuthExpired) ||
		errors.Is(err, credentials.ErrAuthUnavailable) ||
		imap.IsAuthRejected(err)
}
