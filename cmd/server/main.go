package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/credentials"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/rawstore"
	"github.com/vdavid/mailsync/internal/sync"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	bus := events.NewBus(256)
	files := rawstore.New(cfg.DataDir)
	creds := credentials.NewStore(pool, encryptor, credentials.DefaultOAuthClients(cfg))
	coordinator := sync.NewCoordinator(pool, creds, files, bus)

	hub := ws.NewHub(10)
	go hub.Forward(ctx, bus)
	go sync.NewScheduler(pool, coordinator).Run(ctx)
	go sync.NewWatcher(pool, coordinator).Run(ctx)

	server := NewServer(cfg, pool, encryptor, coordinator, hub)

	address := ":" + cfg.Port
	log.Printf("mailsync server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates and returns the HTTP handler for the mailsync API.
func NewServer(cfg *config.Config, pool *pgxpool.Pool, encryptor *crypto.Encryptor, engine sync.Engine, hub *ws.Hub) http.Handler {
	requireToken := auth.RequireToken(cfg.APIToken)

	providersHandler := api.NewProvidersHandler()
	accountsHandler := api.NewAccountsHandler(pool, encryptor)
	syncHandler := api.NewSyncHandler(pool, engine)
	settingsHandler := api.NewSettingsHandler(pool)
	wsHandler := api.NewWebSocketHandler(cfg.APIToken, hub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/api/v1/providers", requireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		providersHandler.ListProviders(w, r)
	})))

	mux.Handle("/api/v1/accounts", requireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			accountsHandler.ListAccounts(w, r)
		case http.MethodPost:
			accountsHandler.AddAccount(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/api/v1/accounts/oauth", requireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		accountsHandler.AddOAuthAccount(w, r)
	})))

	// Handles /api/v1/accounts/{id}/sync and /api/v1/accounts/{id}/reset.
	mux.Handle("/api/v1/accounts/", requireToken(http.HandlerFunc(syncHandler.HandleAccountAction)))

	mux.Handle("/api/v1/sync", requireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		syncHandler.SyncAll(w, r)
	})))

	mux.Handle("/api/v1/settings/sync", requireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			settingsHandler.GetSettings(w, r)
		case http.MethodPost:
			settingsHandler.UpdateSettings(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// The WebSocket handler does its own authentication via query parameter
	// (browsers can't set headers on WebSocket connections).
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailsync API is running")
}
