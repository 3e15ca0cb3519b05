package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
)

func TestGetSyncSettingsReturnsSeededDefaults(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	settings, err := GetSyncSettings(context.Background(), pool)
	require.NoError(t, err)

	assert.Equal(t, 500, settings.MaxSyncCount)
	assert.False(t, settings.AutoSyncEnabled)
	assert.Equal(t, 15, settings.SyncIntervalMinutes)
	assert.False(t, settings.SyncAttachments)
}

func TestUpdateSyncSettings(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	tests := []struct {
		name     string
		settings models.SyncSettings
	}{
		{
			name: "bounded sync with attachments",
			settings: models.SyncSettings{
				MaxSyncCount:        25,
				AutoSyncEnabled:     true,
				SyncIntervalMinutes: 5,
				SyncAttachments:     true,
			},
		},
		{
			name: "unbounded sync",
			settings: models.SyncSettings{
				MaxSyncCount:        models.UnboundedSyncThreshold,
				AutoSyncEnabled:     false,
				SyncIntervalMinutes: 60,
				SyncAttachments:     false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := UpdateSyncSettings(ctx, pool, &tt.settings)
			require.NoError(t, err)

			got, err := GetSyncSettings(ctx, pool)
			require.NoError(t, err)
			assert.Equal(t, tt.settings.MaxSyncCount, got.MaxSyncCount)
			assert.Equal(t, tt.settings.AutoSyncEnabled, got.AutoSyncEnabled)
			assert.Equal(t, tt.settings.SyncIntervalMinutes, got.SyncIntervalMinutes)
			assert.Equal(t, tt.settings.SyncAttachments, got.SyncAttachments)
		})
	}
}
