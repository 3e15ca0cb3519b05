package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
)

// AccountsHandler handles account listing and creation.
type AccountsHandler struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

// NewAccountsHandler creates a new AccountsHandler instance.
func NewAccountsHandler(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *AccountsHandler {
	return &AccountsHandler{
		pool:      pool,
		encryptor: encryptor,
	}
}

// ListAccounts returns all configured accounts, without credential material.
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := db.ListAccounts(r.Context(), h.pool)
	if err != nil {
		log.Printf("api: failed to list accounts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	responses := make([]models.AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		responses = append(responses, accountResponse(account))
	}

	writeJSON(w, http.StatusOK, responses)
}

// AddAccount creates a password-authenticated account. The IMAP endpoint
// comes from the provider registry when the email's domain is known, and from
// the request body otherwise.
func (h *AccountsHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req models.AddAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("api: failed to decode add-account request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "password is required", http.StatusBadRequest)
		return
	}

	account := &models.Account{
		Email:    req.Email,
		AuthType: models.AuthTypePassword,
	}

	cfg, err := provider.Resolve(req.Email)
	switch {
	case err == nil:
		account.Provider = cfg.Name
		account.IMAPHost = cfg.IMAP.Host
		account.IMAPPort = cfg.IMAP.Port
		account.IMAPTLS = cfg.IMAP.TLS
	case errors.Is(err, provider.ErrUnknownProvider):
		// Unknown domain: the caller has to supply the endpoint.
		if req.IMAPHost == "" || req.IMAPPort <= 0 {
			http.Error(w, "unknown provider: imap_host and imap_port are required", http.StatusBadRequest)
			return
		}
		account.Provider = "custom"
		account.IMAPHost = req.IMAPHost
		account.IMAPPort = req.IMAPPort
		account.IMAPTLS = req.IMAPTLS
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	encryptedPassword, err := h.encryptor.Encrypt(req.Password)
	if err != nil {
		log.Printf("api: failed to encrypt password: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	account.EncryptedPassword = encryptedPassword

	if _, err := db.CreateAccount(r.Context(), h.pool, account); err != nil {
		if errors.Is(err, db.ErrAccountExists) {
			http.Error(w, "account already exists", http.StatusConflict)
			return
		}
		log.Printf("api: failed to create account %s: %v", req.Email, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.Printf("api: added account %s (provider %s)", account.Email, account.Provider)
	writeJSON(w, http.StatusCreated, accountResponse(account))
}

// AddOAuthAccount creates an OAuth account from a token pair obtained by an
// external authorization flow. The provider must be known and OAuth-capable;
// there is no manual-endpoint fallback for OAuth.
func (h *AccountsHandler) AddOAuthAccount(w http.ResponseWriter, r *http.Request) {
	var req models.AddOAuthAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("api: failed to decode add-oauth-account request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	if req.AccessToken == "" {
		http.Error(w, "access_token is required", http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token is required", http.StatusBadRequest)
		return
	}
	if req.ExpiresIn <= 0 {
		http.Error(w, "expires_in must be positive", http.StatusBadRequest)
		return
	}

	cfg, err := provider.Resolve(req.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !cfg.OAuthSupported {
		http.Error(w, "provider does not support oauth", http.StatusBadRequest)
		return
	}

	encryptedAccess, err := h.encryptor.Encrypt(req.AccessToken)
	if err != nil {
		log.Printf("api: failed to encrypt access token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	encryptedRefresh, err := h.encryptor.Encrypt(req.RefreshToken)
	if err != nil {
		log.Printf("api: failed to encrypt refresh token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	account := &models.Account{
		Email:                 req.Email,
		Provider:              cfg.Name,
		IMAPHost:              cfg.IMAP.Host,
		IMAPPort:              cfg.IMAP.Port,
		IMAPTLS:               cfg.IMAP.TLS,
		AuthType:              models.AuthTypeOAuth,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		OAuthTokenExpiresAt:   time.Now().Add(time.Duration(req.ExpiresIn) * time.Second),
	}

	if _, err := db.CreateAccount(r.Context(), h.pool, account); err != nil {
		if errors.Is(err, db.ErrAccountExists) {
			http.Error(w, "account already exists", http.StatusConflict)
			return
		}
		log.Printf("api: failed to create oauth account %s: %v", req.Email, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.Printf("api: added oauth account %s (provider %s)", account.Email, account.Provider)
	writeJSON(w, http.StatusCreated, accountResponse(account))
}

func accountResponse(account *models.Account) models.AccountResponse {
	return models.AccountResponse{
		ID:            account.ID,
		Email:         account.Email,
		Provider:      account.Provider,
		AuthType:      account.AuthType,
		LastSyncedUID: account.LastSyncedUID,
		CreatedAt:     account.CreatedAt,
	}
}
