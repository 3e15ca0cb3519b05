package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// SaveSyncedMessage stores one fetched message and its attachment rows, and,
// when advance is true, moves the account's high-water mark to the message's
// UID. Everything happens in a single transaction: a crash can never leave the
// watermark ahead of the stored message. The watermark update is monotonic; it
// never moves backwards even if called with a stale UID.
//
// Re-fetching an existing (account_id, uid) overwrites the row and replaces its
// attachment rows instead of duplicating them.
func SaveSyncedMessage(ctx context.Context, pool *pgxpool.Pool, record *models.MessageRecord, attachments []*models.Attachment, advance bool) error {
	recipients := record.Recipients
	if recipients == nil {
		recipients = []string{}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var messageID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (
			account_id,
			uid,
			message_id_header,
			thread_id,
			subject,
			sender,
			recipients,
			sent_at,
			raw_path,
			has_attachments,
			is_read,
			is_starred
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, uid) DO UPDATE SET
			message_id_header = EXCLUDED.message_id_header,
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			sender = EXCLUDED.sender,
			recipients = EXCLUDED.recipients,
			sent_at = EXCLUDED.sent_at,
			raw_path = EXCLUDED.raw_path,
			has_attachments = EXCLUDED.has_attachments,
			is_read = EXCLUDED.is_read,
			is_starred = EXCLUDED.is_starred
		RETURNING id
	`,
		record.AccountID,
		int64(record.UID),
		record.MessageIDHeader,
		record.ThreadID,
		record.Subject,
		record.Sender,
		recipients,
		record.SentAt,
		record.RawPath,
		record.HasAttachments,
		record.IsRead,
		record.IsStarred,
	).Scan(&messageID)

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	record.ID = messageID

	if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("failed to clear attachments: %w", err)
	}

	for _, att := range attachments {
		err := tx.QueryRow(ctx, `
			INSERT INTO attachments (message_id, filename, file_type, file_size, mime_type, file_path, content_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, messageID, att.Filename, att.FileType, att.FileSize, att.MimeType, att.FilePath, att.ContentHash).Scan(&att.ID)
		if err != nil {
			return fmt.Errorf("failed to save attachment %q: %w", att.Filename, err)
		}
		att.MessageID = messageID
	}

	if advance {
		_, err := tx.Exec(ctx, `
			UPDATE accounts
			SET last_synced_uid = $2, updated_at = NOW()
			WHERE id = $1 AND last_synced_uid < $2
		`, record.AccountID, int64(record.UID))
		if err != nil {
			return fmt.Errorf("failed to advance watermark: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	return nil
}

// GetMessageByUID returns a message by account and IMAP UID.
func GetMessageByUID(ctx context.Context, pool *pgxpool.Pool, accountID int64, uid uint32) (*models.MessageRecord, error) {
	var msg models.MessageRecord

	err := pool.QueryRow(ctx, `
		SELECT
			id,
			account_id,
			uid,
			message_id_header,
			thread_id,
			subject,
			sender,
			recipients,
			sent_at,
			raw_path,
			has_attachments,
			is_read,
			is_starred,
			created_at
		FROM messages
		WHERE account_id = $1 AND uid = $2
	`, accountID, int64(uid)).Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.UID,
		&msg.MessageIDHeader,
		&msg.ThreadID,
		&msg.Subject,
		&msg.Sender,
		&msg.Recipients,
		&msg.SentAt,
		&msg.RawPath,
		&msg.HasAttachments,
		&msg.IsRead,
		&msg.IsStarred,
		&msg.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// CountMessagesForAccount returns the number of stored messages for an account.
func CountMessagesForAccount(ctx context.Context, pool *pgxpool.Pool, accountID int64) (int, error) {
	var count int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// MaxPersistedUID returns the highest UID stored for an account, or 0 when no
// messages exist. The watermark invariant says accounts.last_synced_uid never
// exceeds this value.
func MaxPersistedUID(ctx context.Context, pool *pgxpool.Pool, accountID int64) (uint32, error) {
	var maxUID int64
	err := pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(uid), 0) FROM messages WHERE account_id = $1`, accountID).Scan(&maxUID)
	if err != nil {
		return 0, fmt.Errorf("failed to get max uid: %w", err)
	}
	return uint32(maxUID), nil
}

// GetAttachmentsForMessage returns all attachment rows for a message.
func GetAttachmentsForMessage(ctx context.Context, pool *pgxpool.Pool, messageID int64) ([]*models.Attachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, message_id, filename, file_type, file_size, mime_type, file_path, content_hash, created_at
		FROM attachments
		WHERE message_id = $1
		ORDER BY id
	`, messageID)

	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.Filename,
			&att.FileType,
			&att.FileSize,
			&att.MimeType,
			&att.FilePath,
			&att.ContentHash,
			&att.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, &att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}

// ResetAccountSync deletes every stored message and attachment row for the
// account and zeroes its watermark and recorded UIDVALIDITY, all in one
// transaction. It returns the raw-message and attachment file paths that were
// referenced so the caller can remove the files after commit.
func ResetAccountSync(ctx context.Context, pool *pgxpool.Pool, accountID int64) (rawPaths, attachmentPaths []string, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	attRows, err := tx.Query(ctx, `
		DELETE FROM attachments
		WHERE message_id IN (SELECT id FROM messages WHERE account_id = $1)
		RETURNING file_path
	`, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to delete attachments: %w", err)
	}
	for attRows.Next() {
		var p string
		if err := attRows.Scan(&p); err != nil {
			attRows.Close()
			return nil, nil, fmt.Errorf("failed to scan attachment path: %w", err)
		}
		attachmentPaths = append(attachmentPaths, p)
	}
	attRows.Close()
	if err := attRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating attachment paths: %w", err)
	}

	msgRows, err := tx.Query(ctx, `
		DELETE FROM messages WHERE account_id = $1 RETURNING raw_path
	`, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to delete messages: %w", err)
	}
	for msgRows.Next() {
		var p string
		if err := msgRows.Scan(&p); err != nil {
			msgRows.Close()
			return nil, nil, fmt.Errorf("failed to scan raw path: %w", err)
		}
		if p != "" {
			rawPaths = append(rawPaths, p)
		}
	}
	msgRows.Close()
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating raw paths: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET last_synced_uid = 0, uid_validity = 0, updated_at = NOW()
		WHERE id = $1
	`, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reset watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil, ErrAccountNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit reset: %w", err)
	}

	return rawPaths, attachmentPaths, nil
}
