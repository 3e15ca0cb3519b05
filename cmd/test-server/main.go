// Command test-server runs the full mailsync API against throwaway
// infrastructure: a Postgres testcontainer and an in-memory IMAP server with
// seeded mail. Point a client at it to exercise the HTTP surface and the
// WebSocket stream without touching a real mailbox.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/credentials"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/rawstore"
	"github.com/vdavid/mailsync/internal/sync"
	"github.com/vdavid/mailsync/internal/testutil"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

// testAPIToken is the bearer token the test server accepts.
const testAPIToken = "test-token"

func main() {
	ctx := context.Background()

	if err := setupEnvironment(); err != nil {
		log.Fatalf("Failed to set up environment: %v", err)
	}

	postgresContainer, connStr, err := startPostgres(ctx)
	if err != nil {
		log.Fatalf("Failed to start Postgres: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate Postgres container: %v", err)
		}
	}()

	imapServer, err := testutil.NewTestIMAPServerForE2E()
	if err != nil {
		log.Fatalf("Failed to start test IMAP server: %v", err)
	}
	defer imapServer.Close()
	log.Printf("Test IMAP server started on %s", imapServer.Address)

	if err := seedMailbox(imapServer); err != nil {
		log.Fatalf("Failed to seed mailbox: %v", err)
	}

	cfg, pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to set up database: %v", err)
	}
	defer pool.Close()

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	if err := seedAccount(ctx, pool, encryptor, imapServer); err != nil {
		log.Fatalf("Failed to seed account: %v", err)
	}

	dataDir, err := os.MkdirTemp("", "mailsync-test-server-")
	if err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(dataDir) }()

	bus := events.NewBus(256)
	files := rawstore.New(dataDir)
	creds := credentials.NewStore(pool, encryptor, credentials.DefaultOAuthClients(cfg))
	coordinator := sync.NewCoordinator(pool, creds, files, bus)

	hub := ws.NewHub(10)
	go hub.Forward(ctx, bus)
	go sync.NewScheduler(pool, coordinator).Run(ctx)
	go sync.NewWatcher(pool, coordinator).Run(ctx)

	// Populate the database before the first client arrives.
	if err := coordinator.SyncAll(ctx); err != nil {
		log.Printf("Warning: initial sync failed: %v", err)
	} else {
		log.Println("Initial sync finished")
	}

	if err := serve(cfg, pool, encryptor, coordinator, hub, imapServer); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// setupEnvironment injects the configuration the server binary normally takes
// from deployment.
func setupEnvironment() error {
	vars := map[string]string{
		"MAILSYNC_ENV": "test",
		// "test-key-12345678901234567890123", 32 bytes.
		"MAILSYNC_ENCRYPTION_KEY_BASE64": "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM=",
		"MAILSYNC_API_TOKEN":             testAPIToken,
		"MAILSYNC_DB_PASSWORD":           "mailsync",
	}
	for key, value := range vars {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// startPostgres starts a disposable Postgres database using testcontainers.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	log.Println("Starting test Postgres database...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mailsync_test"),
		postgres.WithUsername("mailsync"),
		postgres.WithPassword("mailsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	log.Println("Test Postgres database started")
	return postgresContainer, connStr, nil
}

// seedMailbox appends a believable spread of messages: a thread, a starred
// message, and one with an attachment.
func seedMailbox(srv *testutil.TestIMAPServer) error {
	messages := []struct {
		flags []string
		raw   string
	}{
		{nil, "Message-ID: <report-1@corp.example>\r\n" +
			"Date: Mon, 04 Aug 2025 09:15:00 +0000\r\n" +
			"From: Dana Reeve <dana@corp.example>\r\n" +
			"To: username@example.com\r\n" +
			"Subject: Quarterly report draft\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"First draft attached in the follow-up.\r\n"},
		{nil, "Message-ID: <report-2@corp.example>\r\n" +
			"In-Reply-To: <report-1@corp.example>\r\n" +
			"References: <report-1@corp.example>\r\n" +
			"Date: Mon, 04 Aug 2025 11:42:00 +0000\r\n" +
			"From: Sam Okafor <sam@corp.example>\r\n" +
			"To: username@example.com\r\n" +
			"Subject: Re: Quarterly report draft\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Numbers in section 3 look off, see comments.\r\n"},
		{[]string{"\\Flagged"}, "Message-ID: <renewal@billing.example>\r\n" +
			"Date: Tue, 05 Aug 2025 08:00:00 +0000\r\n" +
			"From: Billing <billing@billing.example>\r\n" +
			"To: username@example.com\r\n" +
			"Subject: Action required: renewal\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Your plan renews on September 1.\r\n"},
		{[]string{"\\Seen"}, "Message-ID: <attach@corp.example>\r\n" +
			"Date: Wed, 06 Aug 2025 14:30:00 +0000\r\n" +
			"From: Dana Reeve <dana@corp.example>\r\n" +
			"To: username@example.com\r\n" +
			"Subject: Final report\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: multipart/mixed; boundary=\"seed-boundary\"\r\n" +
			"\r\n" +
			"--seed-boundary\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Signed copy attached.\r\n" +
			"--seed-boundary\r\n" +
			"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
			"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
			"Content-Transfer-Encoding: base64\r\n" +
			"\r\n" +
			"JVBERi0xLjQKJSBmYWtlIHBkZiBjb250ZW50Cg==\r\n" +
			"--seed-boundary--\r\n"},
	}

	for _, msg := range messages {
		if _, err := srv.AppendMessage("INBOX", msg.flags, msg.raw); err != nil {
			return err
		}
	}

	log.Printf("Seeded %d messages into INBOX", len(messages))
	return nil
}

// setupDatabase builds the connection pool against the container and runs
// migrations.
func setupDatabase(ctx context.Context, connStr string) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := testutil.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Connected to database and ran migrations")
	return cfg, pool, nil
}

// seedAccount registers the in-memory mailbox as a password account and turns
// auto-sync on with a short interval so the scheduler has something to do.
func seedAccount(ctx context.Context, pool *pgxpool.Pool, encryptor *crypto.Encryptor, srv *testutil.TestIMAPServer) error {
	host, portStr, err := net.SplitHostPort(srv.Address)
	if err != nil {
		return fmt.Errorf("failed to split IMAP address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("failed to parse IMAP port: %w", err)
	}

	encryptedPassword, err := encryptor.Encrypt(srv.Password())
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}

	account := &models.Account{
		Email:             srv.Username(),
		Provider:          "custom",
		IMAPHost:          host,
		IMAPPort:          port,
		IMAPTLS:           false,
		AuthType:          models.AuthTypePassword,
		EncryptedPassword: encryptedPassword,
	}
	if _, err := db.CreateAccount(ctx, pool, account); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	log.Printf("Seeded account %s (id %d)", account.Email, account.ID)

	settings := &models.SyncSettings{
		MaxSyncCount:        500,
		AutoSyncEnabled:     true,
		SyncIntervalMinutes: 1,
		SyncAttachments:     true,
	}
	if err := db.UpdateSyncSettings(ctx, pool, settings); err != nil {
		return fmt.Errorf("failed to update sync settings: %w", err)
	}

	return nil
}

// serve starts the HTTP server and blocks until a shutdown signal.
func serve(cfg *config.Config, pool *pgxpool.Pool, encryptor *crypto.Encryptor, engine sync.Engine, hub *ws.Hub, imapServer *testutil.TestIMAPServer) error {
	server := newServer(cfg, pool, encryptor, engine, hub)
	address := ":" + cfg.Port

	log.Printf("mailsync test server starting on %s", address)
	log.Printf("Test IMAP server: %s (username: %s, password: %s)", imapServer.Address, imapServer.Username(), imapServer.Password())
	log.Printf("API token: %s", testAPIToken)
	log.Println("Server ready. Press Ctrl+C to stop.")

	serverErr := make(chan error, 1)
	go func() {
		if err := http.ListenAndServe(address, server); err != nil {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		return nil
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

// newServer mirrors the production route table.
func newServer(cfg *config.Config, pool *pgxpool.Pool, encryptor *crypto.Encryptor, engine sync.Engine, hub *ws.Hub) http.Handler {
	requireToken := auth.RequireToken(cfg.APIToken)

	providersHandler := api.NewProvidersHandler()
	accountsHandler := api.NewAccountsHandler(pool, encryptor)
	syncHandler := api.NewSyncHandler(pool, engine)
	settingsHandler := api.NewSettingsHandler(pool)
	wsHandler := api.NewWebSocketHandler(cfg.APIToken, hub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "mailsync test server is running")
	})

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

	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	return mux
}
