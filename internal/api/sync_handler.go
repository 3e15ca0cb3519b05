package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/sync"
)

// SyncHandler triggers sync and reset operations. Runs execute in the
// background; the HTTP response only reports acceptance, progress flows over
// the event stream.
type SyncHandler struct {
	pool   *pgxpool.Pool
	engine sync.Engine
}

// NewSyncHandler creates a new SyncHandler instance.
func NewSyncHandler(pool *pgxpool.Pool, engine sync.Engine) *SyncHandler {
	return &SyncHandler{
		pool:   pool,
		engine: engine,
	}
}

// SyncAll starts a sync for every account and returns 202.
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	// The runs must outlive the HTTP request.
	go func() {
		if err := h.engine.SyncAll(context.Background()); err != nil {
			log.Printf("api: sync all: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleAccountAction routes POST /api/v1/accounts/{id}/sync and
// POST /api/v1/accounts/{id}/reset.
func (h *SyncHandler) HandleAccountAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID, action, ok := accountActionPath(r.URL.Path)
	if !ok {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}

	switch action {
	case "sync":
		h.syncAccount(w, r, accountID)
	case "reset":
		h.resetAccount(w, r, accountID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *SyncHandler) syncAccount(w http.ResponseWriter, r *http.Request, accountID int64) {
	if _, err := db.GetAccount(r.Context(), h.pool, accountID); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		log.Printf("api: failed to load account %d: %v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if h.engine.Syncing(accountID) {
		http.Error(w, "sync already in progress", http.StatusConflict)
		return
	}

	// The run must outlive the HTTP request. If another run grabbed the lock
	// since the check above, the error is just the wake coalescing.
	go func() {
		if _, err := h.engine.SyncAccount(context.Background(), accountID); err != nil &&
			!errors.Is(err, sync.ErrSyncInProgress) {
			log.Printf("api: sync account %d: %v", accountID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *SyncHandler) resetAccount(w http.ResponseWriter, r *http.Request, accountID int64) {
	err := h.engine.ResetAccount(r.Context(), accountID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	case errors.Is(err, sync.ErrSyncInProgress):
		http.Error(w, "sync in progress, try again later", http.StatusConflict)
	case errors.Is(err, db.ErrAccountNotFound):
		http.Error(w, "account not found", http.StatusNotFound)
	default:
		log.Printf("api: reset account %d: %v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
