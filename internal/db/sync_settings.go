package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrSyncSettingsNotFound is returned when the settings row is missing, which
// only happens if migrations have not run.
var ErrSyncSettingsNotFound = errors.New("sync settings not found")

// GetSyncSettings returns the global sync settings singleton.
func GetSyncSettings(ctx context.Context, pool *pgxpool.Pool) (*models.SyncSettings, error) {
	var settings models.SyncSettings

	err := pool.QueryRow(ctx, `
		SELECT
			max_sync_count,
			auto_sync_enabled,
			sync_interval_minutes,
			sync_attachments,
			created_at,
			updated_at
		FROM sync_settings
		WHERE id = 1
	`).Scan(
		&settings.MaxSyncCount,
		&settings.AutoSyncEnabled,
		&settings.SyncIntervalMinutes,
		&settings.SyncAttachments,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSyncSettingsNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get sync settings: %w", err)
	}

	return &settings, nil
}

// UpdateSyncSettings replaces the global sync settings singleton.
func UpdateSyncSettings(ctx context.Context, pool *pgxpool.Pool, settings *models.SyncSettings) error {
	tag, err := pool.Exec(ctx, `
		UPDATE sync_settings SET
			max_sync_count = $1,
			auto_sync_enabled = $2,
			sync_interval_minutes = $3,
			sync_attachments = $4,
			updated_at = NOW()
		WHERE id = 1
	`,
		settings.MaxSyncCount,
		settings.AutoSyncEnabled,
		settings.SyncIntervalMinutes,
		settings.SyncAttachments,
	)

	if err != nil {
		return fmt.Errorf("failed to update sync settings: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrSyncSettingsNotFound
	}

	return nil
}
