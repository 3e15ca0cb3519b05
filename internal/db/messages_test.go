package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
)

func testMessage(accountID int64, uid uint32) *models.MessageRecord {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.MessageRecord{
		AccountID:       accountID,
		UID:             uid,
		MessageIDHeader: "<msg-100@example.com>",
		ThreadID:        "<thread-root@example.com>",
		Subject:         "Quarterly report",
		Sender:          "Alice <alice@example.com>",
		Recipients:      []string{"bob@example.com"},
		SentAt:          &sentAt,
		RawPath:         "raw/1/100.eml",
	}
}

func TestSaveSyncedMessageAdvancesWatermark(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	account := createTestAccount(t, ctx, pool, "watermark@example.com")

	err := SaveSyncedMessage(ctx, pool, testMessage(account.ID, 101), nil, true)
	require.NoError(t, err)

	got, err := GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(101), got.LastSyncedUID)

	msg, err := GetMessageByUID(ctx, pool, account.ID, 101)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", msg.Subject)
	assert.Equal(t, []string{"bob@example.com"}, msg.Recipients)
}

// A message stored after an earlier UID failed must be durable without moving
// the watermark, so the failed UID is retried on the next run.
func TestSaveSyncedMessagePersistsWithoutAdvancing(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	account := createTestAccount(t, ctx, pool, "skipped@example.com")

	// UID 101 succeeds, 102 fails upstream, 103 succeeds but must not advance.
	require.NoError(t, SaveSyncedMessage(ctx, pool, testMessage(account.ID, 101), nil, true))
	require.NoError(t, SaveSyncedMessage(ctx, pool, testMessage(account.ID, 103), nil, false))

	got, err := GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(101), got.LastSyncedUID)

	count, err := CountMessagesForAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	maxUID, err := MaxPersistedUID(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(103), maxUID)
}

func TestSaveSyncedMessageWatermarkIsMonotonic(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	account := createTestAccount(t, ctx, pool, "monotonic@example.com")

	require.NoError(t, SaveSyncedMessage(ctx, pool, testMessage(account.ID, 105), nil, true))
	require.NoError(t, SaveSyncedMessage(ctx, pool, testMessage(account.ID, 101), nil, true))

	got, err := GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(105), got.LastSyncedUID)
}

func TestSaveSyncedMessageIsIdempotent(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	account := createTestAccount(t, ctx, pool, "idempotent@example.com")

	msg := testMessage(account.ID, 200)
	att := &models.Attachment{
		Filename:    "report.pdf",
		FileType:    "pdf",
		FileSize:    2048,
		MimeType:    "application/pdf",
		FilePath:    "attachments/pdf/1/200/report.pdf",
		ContentHash: "abc123",
	}
	require.NoError(t, SaveSyncedMessage(ctx, pool, msg, []*models.Attachment{att}, true))
	firstID := msg.ID

	// Re-fetching the same UID overwrites rather than duplicating.
	msg2 := testMessage(account.ID, 200)
	msg2.Subject = "Quarterly report (v2)"
	msg2.IsRead = true
	require.NoError(t, SaveSyncedMessage(ctx, pool, msg2, []*models.Attachment{att}, true))
	assert.Equal(t, firstID, msg2.ID)

	count, err := CountMessagesForAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := GetMessageByUID(ctx, pool, account.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report (v2)", got.Subject)
	assert.True(t, got.IsRead)

	attachments, err := GetAttachmentsForMessage(ctx, pool, got.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "report.pdf", attachments[0].Filename)
	assert.Equal(t, int64(2048), attachments[0].FileSize)
	assert.Equal(t, "abc123", attachments[0].ContentHash)
}

func TestGetMessageByUIDNotFound(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	account := createTestAccount(t, ctx, pool, "missing@example.com")

	_, err := GetMessageByUID(ctx, pool, account.ID, 99999)
	assert.True(t, errors.Is(err, ErrMessageNotFound))
}

func TestResetAccountSync(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	account := createTestAccount(t, ctx, pool, "reset@example.com")
	require.NoError(t, UpdateUIDValidity(ctx, pool, account.ID, 555))

	att := &models.Attachment{
		Filename:    "photo.jpg",
		FileType:    "jpg",
		MimeType:    "image/jpeg",
		FilePath:    "attachments/jpg/1/300/photo.jpg",
		ContentHash: "def456",
	}
	msg := testMessage(account.ID, 300)
	msg.RawPath = "raw/1/300.eml"
	require.NoError(t, SaveSyncedMessage(ctx, pool, msg, []*models.Attachment{att}, true))

	msg2 := testMessage(account.ID, 301)
	msg2.RawPath = "raw/1/301.eml"
	require.NoError(t, SaveSyncedMessage(ctx, pool, msg2, nil, true))

	rawPaths, attachmentPaths, err := ResetAccountSync(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"raw/1/300.eml", "raw/1/301.eml"}, rawPaths)
	assert.ElementsMatch(t, []string{"attachments/jpg/1/300/photo.jpg"}, attachmentPaths)

	count, err := CountMessagesForAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := GetAccount(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.LastSyncedUID)
	assert.Equal(t, uint32(0), got.UIDValidity)

	// Resetting an already clean account is fine.
	rawPaths, attachmentPaths, err = ResetAccountSync(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Empty(t, rawPaths)
	assert.Empty(t, attachmentPaths)
}

func TestResetAccountSyncUnknownAccount(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	_, _, err := ResetAccountSync(context.Background(), pool, 424242)
	assert.True(t, errors.Is(err, ErrAccountNotFound))
}
