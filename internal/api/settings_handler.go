package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

// SettingsHandler serves the global sync settings singleton.
type SettingsHandler struct {
	pool *pgxpool.Pool
}

// NewSettingsHandler creates a new SettingsHandler instance.
func NewSettingsHandler(pool *pgxpool.Pool) *SettingsHandler {
	return &SettingsHandler{pool: pool}
}

// GetSettings returns the current sync settings.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := db.GetSyncSettings(r.Context(), h.pool)
	if errors.Is(err, db.ErrSyncSettingsNotFound) {
		// Only possible when migrations have not run.
		http.Error(w, "Settings not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("api: failed to get sync settings: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings replaces the sync settings. Changes apply to the next run;
// a run already in flight keeps the settings it started with.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSyncSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("api: failed to decode settings request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateSettingsRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	settings := &models.SyncSettings{
		MaxSyncCount:        req.MaxSyncCount,
		AutoSyncEnabled:     req.AutoSyncEnabled,
		SyncIntervalMinutes: req.SyncIntervalMinutes,
		SyncAttachments:     req.SyncAttachments,
	}

	if err := db.UpdateSyncSettings(r.Context(), h.pool, settings); err != nil {
		log.Printf("api: failed to update sync settings: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	updated, err := db.GetSyncSettings(r.Context(), h.pool)
	if err != nil {
		log.Printf("api: failed to reload sync settings: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.Printf("api: sync settings updated (max %d, auto-sync %t, interval %dm, attachments %t)",
		updated.MaxSyncCount, updated.AutoSyncEnabled, updated.SyncIntervalMinutes, updated.SyncAttachments)
	writeJSON(w, http.StatusOK, updated)
}

func validateSettingsRequest(req *models.UpdateSyncSettingsRequest) error {
	if req.MaxSyncCount <= 0 {
		return fmt.Errorf("max_sync_count must be positive")
	}
	if req.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync_interval_minutes must be positive")
	}
	return nil
}
