// Package sync orchestrates incremental IMAP sync runs: one account at a
// time per account, crash-safe watermark advancement, and ordered progress
// events for observers.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/mailsync/internal/credentials"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/rawstore"
)

// syncFolder is the only folder the engine synchronizes.
const syncFolder = "INBOX"

// ErrSyncInProgress is returned when the account's lock is already held by a
// running sync, reset, or refresh. The caller retries later; requests are
// never queued.
var ErrSyncInProgress = errors.New("sync already in progress for this account")

// ErrUIDValidityChanged means the server invalidated all stored UIDs for the
// mailbox. Local state is stale and the account needs an explicit reset.
var ErrUIDValidityChanged = errors.New("mailbox uid validity changed, account requires a reset")

// Outcome summarizes one finished sync run.
type Outcome struct {
	RunID     string `json:"run_id"`
	AccountID int64  `json:"account_id"`
	Total     int    `json:"total"`
	Synced    int    `json:"synced"`
	Skipped   int    `json:"skipped"`
}

// syncSession is the slice of the IMAP session the coordinator drives.
type syncSession interface {
	Authenticate(material models.AuthMaterial) error
	SelectFolder(name string) (*imap.Mailbox, error)
	FetchUIDs(fromUID uint32) ([]uint32, error)
	FetchMessage(uid uint32) (*imap.FetchedMessage, error)
	Logout()
}

type dialFunc func(host string, port int, useTLS bool) (syncSession, error)

// Coordinator runs sync, reset, and bulk sync operations. All mutation of
// message rows and watermarks goes through it, under per-account locks.
type Coordinator struct {
	pool        *pgxpool.Pool
	credentials *credentials.Store
	files       *rawstore.Store
	bus         *events.Bus
	locks       *lockTable
	dial        dialFunc
}

// NewCoordinator wires a coordinator to its stores and event bus.
func NewCoordinator(pool *pgxpool.Pool, creds *credentials.Store, files *rawstore.Store, bus *events.Bus) *Coordinator {
	return &Coordinator{
		pool:        pool,
		credentials: creds,
		files:       files,
		bus:         bus,
		locks:       newLockTable(),
		dial: func(host string, port int, useTLS bool) (syncSession, error) {
			session, err := imap.Connect(host, port, useTLS)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
	}
}

// Syncing reports whether a sync, reset, or refresh currently holds the
// account's lock.
func (c *Coordinator) Syncing(accountID int64) bool {
	return c.locks.Locked(accountID)
}

// SyncAccount performs one full sync run for the account and blocks until it
// finishes. A second call for the same account while one is running returns
// ErrSyncInProgress immediately. Every accepted run ends with exactly one
// terminal event on the bus, so callers may ignore the return values and
// observe outcomes there instead.
func (c *Coordinator) SyncAccount(ctx context.Context, accountID int64) (*Outcome, error) {
	if !c.locks.TryLock(accountID) {
		return nil, fmt.Errorf("%w: account %d", ErrSyncInProgress, accountID)
	}
	defer c.locks.Unlock(accountID)

	return c.runSync(ctx, accountID)
}

// SyncAll starts a sync for every account, each on its own goroutine, and
// returns once they are launched. Accounts already being synced are skipped;
// per-account outcomes arrive as events.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	accounts, err := db.ListAccounts(ctx, c.pool)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	for _, account := range accounts {
		go func(id int64, email string) {
			if _, err := c.SyncAccount(ctx, id); errors.Is(err, ErrSyncInProgress) {
				log.Printf("sync: account %s already syncing, skipped", email)
			}
		}(account.ID, account.Email)
	}

	return nil
}

// ResetAccount deletes all synced messages and attachments for the account
// and zeroes its watermark and UIDVALIDITY, so the next sync starts from
// scratch. It takes the same lock as a sync run; a reset during an active
// sync is rejected with ErrSyncInProgress.
func (c *Coordinator) ResetAccount(ctx context.Context, accountID int64) error {
	if !c.locks.TryLock(accountID) {
		return fmt.Errorf("%w: account %d", ErrSyncInProgress, accountID)
	}
	defer c.locks.Unlock(accountID)

	rawPaths, attachmentPaths, err := db.ResetAccountSync(ctx, c.pool, accountID)
	if err != nil {
		return err
	}

	// The rows are gone; file removal is best-effort cleanup.
	if err := c.files.Remove(append(rawPaths, attachmentPaths...)...); err != nil {
		log.Printf("sync: reset of account %d left stray files: %v", accountID, err)
	}

	log.Printf("sync: account %d reset (%d messages, %d attachments)", accountID, len(rawPaths), len(attachmentPaths))
	return nil
}

func (c *Coordinator) runSync(ctx context.Context, accountID int64) (*Outcome, error) {
	runID := uuid.NewString()

	account, err := db.GetAccount(ctx, c.pool, accountID)
	if err != nil {
		return nil, c.fail(runID, accountID, "", err)
	}

	settings, err := db.GetSyncSettings(ctx, c.pool)
	if err != nil {
		return nil, c.fail(runID, accountID, account.Email, err)
	}

	material, err := c.credentials.CredentialsFor(ctx, account)
	if err != nil {
		return nil, c.fail(runID, accountID, account.Email, err)
	}

	session, err := c.dial(account.IMAPHost, account.IMAPPort, account.IMAPTLS)
	if err != nil {
		return nil, c.fail(runID, accountID, account.Email, err)
	}

	if err := session.Authenticate(material); err != nil {
		return nil, c.fail(runID, accountID, account.Email, err)
	}

	mailbox, err := session.SelectFolder(syncFolder)
	if err != nil {
		session.Logout()
		return nil, c.fail(runID, accountID, account.Email, err)
	}

	// UIDs are only comparable within one UIDVALIDITY epoch. A changed value
	// means every stored UID is stale; carrying on would mis-sync silently.
	if account.UIDValidity != 0 && mailbox.UIDValidity != account.UIDValidity {
		session.Logout()
		err := fmt.Errorf("%w: stored %d, server %d", ErrUIDValidityChanged, account.UIDValidity, mailbox.UIDValidity)
		return nil, c.fail(runID, accountID, account.Email, err)
	}
	if account.UIDValidity == 0 && mailbox.UIDValidity != 0 {
		if err := db.UpdateUIDValidity(ctx, c.pool, accountID, mailbox.UIDValidity); err != nil {
			session.Logout()
			return nil, c.fail(runID, accountID, account.Email, err)
		}
	}

	uids, err := session.FetchUIDs(account.LastSyncedUID + 1)
	if err != nil {
		session.Logout()
		return nil, c.fail(runID, accountID, account.Email, err)
	}

	uids = clipBatch(uids, settings)
	total := len(uids)

	log.Printf("sync: account %s starting run %s: %d pending (watermark %d)",
		account.Email, runID, total, account.LastSyncedUID)
	c.emit(runID, account, events.StatusStarting, 0, total, 0, nil)

	synced, skipped := 0, 0
	advance := true
	for i, uid := range uids {
		// Cancellation is honored between fetches; committed work stays.
		if ctx.Err() != nil {
			session.Logout()
			return nil, c.fail(runID, accountID, account.Email, fmt.Errorf("sync canceled: %w", ctx.Err()))
		}

		fetched, err := session.FetchMessage(uid)
		if err != nil {
			if imap.IsFetchError(err) {
				// One bad message must not kill the run. The watermark
				// freezes below this UID so the next run retries it.
				log.Printf("sync: account %s uid %d skipped: %v", account.Email, uid, err)
				skipped++
				advance = false
				c.emit(runID, account, events.StatusSyncing, i+1, total, skipped, nil)
				continue
			}
			session.Logout()
			return nil, c.fail(runID, accountID, account.Email, err)
		}

		if err := c.persistMessage(ctx, account, settings, fetched, advance); err != nil {
			session.Logout()
			return nil, c.fail(runID, accountID, account.Email, err)
		}

		synced++
		c.emit(runID, account, events.StatusSyncing, i+1, total, skipped, nil)
	}

	session.Logout()

	if total > 0 && synced == 0 {
		return nil, c.fail(runID, accountID, account.Email,
			fmt.Errorf("none of %d pending messages could be fetched", total))
	}

	log.Printf("sync: account %s completed run %s: %d synced, %d skipped", account.Email, runID, synced, skipped)
	c.emit(runID, account, events.StatusCompleted, synced, total, skipped, nil)

	return &Outcome{
		RunID:     runID,
		AccountID: accountID,
		Total:     total,
		Synced:    synced,
		Skipped:   skipped,
	}, nil
}

// persistMessage makes one fetched message durable: raw bytes to disk,
// attachments to disk when enabled, then the record plus (conditionally) the
// watermark in a single transaction.
func (c *Coordinator) persistMessage(ctx context.Context, account *models.Account, settings *models.SyncSettings, fetched *imap.FetchedMessage, advance bool) error {
	parsed := imap.ParseMessage(fetched)
	record := parsed.Record
	record.AccountID = account.ID

	rawPath, err := c.files.SaveRawMessage(account.ID, fetched.UID, fetched.Raw)
	if err != nil {
		return fmt.Errorf("failed to store raw message for uid %d: %w", fetched.UID, err)
	}
	record.RawPath = rawPath

	var attachments []*models.Attachment
	if settings.SyncAttachments {
		for _, part := range parsed.Attachments {
			saved, err := c.files.SaveAttachment(account.ID, fetched.UID, part.Filename, part.Content)
			if err != nil {
				return fmt.Errorf("failed to store attachment %q for uid %d: %w", part.Filename, fetched.UID, err)
			}
			attachments = append(attachments, &models.Attachment{
				Filename:    part.Filename,
				FileType:    saved.FileType,
				FileSize:    saved.Size,
				MimeType:    part.MimeType,
				FilePath:    saved.Path,
				ContentHash: saved.SHA256,
			})
		}
	}

	if err := db.SaveSyncedMessage(ctx, c.pool, record, attachments, advance); err != nil {
		return fmt.Errorf("failed to persist uid %d: %w", fetched.UID, err)
	}

	return nil
}

// clipBatch narrows an ascending pending list to one run's batch: the oldest
// max_sync_count UIDs. The remainder stays above the watermark, so the next
// run continues where this one ends instead of skipping mail permanently.
func clipBatch(uids []uint32, settings *models.SyncSettings) []uint32 {
	if settings.Unbounded() || len(uids) <= settings.MaxSyncCount {
		return uids
	}
	return uids[:settings.MaxSyncCount]
}

func (c *Coordinator) emit(runID string, account *models.Account, status events.Status, current, total, skipped int, cause error) {
	event := events.Event{
		RunID:     runID,
		AccountID: account.ID,
		Email:     account.Email,
		Status:    status,
		Current:   current,
		Total:     total,
		Skipped:   skipped,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	c.bus.Publish(event)
}

// fail logs the cause, publishes the run's terminal failed event, and hands
// the error back for the direct caller.
func (c *Coordinator) fail(runID string, accountID int64, email string, cause error) error {
	log.Printf("sync: account %d run %s failed: %v", accountID, runID, cause)
	c.bus.Publish(events.Event{
		RunID:     runID,
		AccountID: accountID,
		Email:     email,
		Status:    events.StatusFailed,
		Error:     cause.Error(),
	})
	return cause
}
