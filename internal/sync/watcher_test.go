package sync

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/mailsync/internal/credentials"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/rawstore"
	"github.com/vdavid/mailsync/internal/testutil"
)

// closedPort returns a port nothing listens on, so watch attempts fail fast.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestWatcherReconcile(t *testing.T) {
	pool := testutil.NewTestDB(t)
	enc := testutil.GetTestEncryptor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds := credentials.NewStore(pool, enc, nil)
	coordinator := NewCoordinator(pool, creds, rawstore.New(t.TempDir()), events.NewBus(0))
	watcher := NewWatcher(pool, coordinator)

	setAutoSync := func(enabled bool) {
		t.Helper()
		require.NoError(t, db.UpdateSyncSettings(ctx, pool, &models.SyncSettings{
			MaxSyncCount:        500,
			AutoSyncEnabled:     enabled,
			SyncIntervalMinutes: 15,
		}))
	}

	encryptedPassword, err := enc.Encrypt("secret")
	require.NoError(t, err)
	port := closedPort(t)

	createAccount := func(email string) int64 {
		t.Helper()
		id, err := db.CreateAccount(ctx, pool, &models.Account{
			Email:             email,
			Provider:          "custom",
			IMAPHost:          "127.0.0.1",
			IMAPPort:          port,
			IMAPTLS:           false,
			AuthType:          models.AuthTypePassword,
			EncryptedPassword: encryptedPassword,
		})
		require.NoError(t, err)
		return id
	}

	// Auto-sync off: no watches, regardless of accounts.
	setAutoSync(false)
	firstID := createAccount("one@example.com")
	watcher.reconcile(ctx)
	assert.Empty(t, watcher.watching)

	// Enabled: one watch per account.
	setAutoSync(true)
	watcher.reconcile(ctx)
	assert.Len(t, watcher.watching, 1)
	assert.Contains(t, watcher.watching, firstID)

	// New account picked up, existing watch untouched.
	secondID := createAccount("two@example.com")
	watcher.reconcile(ctx)
	assert.Len(t, watcher.watching, 2)
	assert.Contains(t, watcher.watching, secondID)

	// Reconcile is idempotent while nothing changes.
	watcher.reconcile(ctx)
	assert.Len(t, watcher.watching, 2)

	// Disabling tears every watch down.
	setAutoSync(false)
	watcher.reconcile(ctx)
	assert.Empty(t, watcher.watching)
}

func TestWatcherLockedCredentialsRespectsAccountLock(t *testing.T) {
	pool := testutil.NewTestDB(t)
	enc := testutil.GetTestEncryptor(t)
	ctx := context.Background()

	creds := credentials.NewStore(pool, enc, nil)
	coordinator := NewCoordinator(pool, creds, rawstore.New(t.TempDir()), events.NewBus(0))
	watcher := NewWatcher(pool, coordinator)

	encryptedPassword, err := enc.Encrypt("secret")
	require.NoError(t, err)
	account := &models.Account{
		Email:             "locked@example.com",
		Provider:          "custom",
		IMAPHost:          "127.0.0.1",
		IMAPPort:          143,
		AuthType:          models.AuthTypePassword,
		EncryptedPassword: encryptedPassword,
	}
	_, err = db.CreateAccount(ctx, pool, account)
	require.NoError(t, err)

	// While a sync holds the account lock the watcher backs off instead of
	// refreshing concurrently.
	require.True(t, coordinator.locks.TryLock(account.ID))
	_, err = watcher.lockedCredentials(ctx, account)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	coordinator.locks.Unlock(account.ID)

	material, err := watcher.lockedCredentials(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "secret", material.Secret)
	assert.False(t, coordinator.locks.Locked(account.ID), "the lock is released afterwards")
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, isAuthFailure(credentials.ErrAuthExpired))
	assert.True(t, isAuthFailure(credentials.ErrAuthUnavailable))
	assert.True(t, isAuthFailure(&imap.AuthRejectedError{Err: errors.New("no")}))
	assert.False(t, isAuthFailure(&imap.ConnectionError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, isAuthFailure(errors.New("unrelated")))
}
