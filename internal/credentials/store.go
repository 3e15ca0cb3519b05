// Package credentials turns stored account rows into ready-to-use IMAP
// credentials, refreshing OAuth tokens transparently when they are at or near
// expiry.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

const (
	// expirySkew refreshes tokens this long before their stated expiry, so a
	// token never dies mid-session.
	expirySkew = 5 * time.Minute
	// refreshTimeout bounds one token refresh round-trip.
	refreshTimeout = 30 * time.Second
)

// ErrAuthUnavailable means no usable credential exists for the account: the
// user has to (re)enter one.
var ErrAuthUnavailable = errors.New("credentials: no usable credential")

// ErrAuthExpired means the OAuth access token is stale and the refresh
// attempt failed: the user has to re-authorize.
var ErrAuthExpired = errors.New("credentials: token refresh failed")

// OAuthClient is the per-provider OAuth application registration used for
// token refresh.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
}

// DefaultOAuthClients builds the provider registrations from configuration.
// Providers without configured client credentials are left out; their
// accounts surface ErrAuthExpired when a refresh becomes necessary.
func DefaultOAuthClients(cfg *config.Config) map[string]OAuthClient {
	clients := make(map[string]OAuthClient)

	if cfg.GoogleClientID != "" {
		clients["gmail"] = OAuthClient{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
		}
	}
	if cfg.MicrosoftClientID != "" {
		clients["outlook"] = OAuthClient{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
		}
	}

	return clients
}

// Store decrypts account credentials and keeps OAuth tokens fresh. Callers
// must hold the account's sync lock while calling CredentialsFor; that lock
// serializes refreshes the same way it serializes syncs.
type Store struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	clients   map[string]OAuthClient
}

// NewStore creates a credential store.
func NewStore(pool *pgxpool.Pool, encryptor *crypto.Encryptor, clients map[string]OAuthClient) *Store {
	if clients == nil {
		clients = make(map[string]OAuthClient)
	}
	return &Store{pool: pool, encryptor: encryptor, clients: clients}
}

// CredentialsFor returns login material for the account. Password accounts
// get the stored secret unchanged. OAuth accounts get the stored access token
// if it is comfortably inside its expiry, otherwise a refreshed one; the
// refreshed token pair is durable in the database before it is returned, so a
// crash cannot lose a token the provider has already rotated.
func (s *Store) CredentialsFor(ctx context.Context, account *models.Account) (models.AuthMaterial, error) {
	switch account.AuthType {
	case models.AuthTypeOAuth:
		return s.oauthCredentials(ctx, account)
	default:
		return s.passwordCredentials(account)
	}
}

func (s *Store) passwordCredentials(account *models.Account) (models.AuthMaterial, error) {
	if len(account.EncryptedPassword) == 0 {
		return models.AuthMaterial{}, fmt.Errorf("%w: account %s has no stored password", ErrAuthUnavailable, account.Email)
	}

	password, err := s.encryptor.Decrypt(account.EncryptedPassword)
	if err != nil {
		return models.AuthMaterial{}, fmt.Errorf("%w: decrypting password for %s: %v", ErrAuthUnavailable, account.Email, err)
	}

	return models.AuthMaterial{
		Mode:     models.AuthTypePassword,
		Username: account.Email,
		Secret:   password,
	}, nil
}

func (s *Store) oauthCredentials(ctx context.Context, account *models.Account) (models.AuthMaterial, error) {
	if len(account.EncryptedAccessToken) == 0 && len(account.EncryptedRefreshToken) == 0 {
		return models.AuthMaterial{}, fmt.Errorf("%w: account %s has no stored tokens", ErrAuthUnavailable, account.Email)
	}

	if len(account.EncryptedAccessToken) > 0 && time.Now().Before(account.OAuthTokenExpiresAt.Add(-expirySkew)) {
		access, err := s.encryptor.Decrypt(account.EncryptedAccessToken)
		if err != nil {
			return models.AuthMaterial{}, fmt.Errorf("%w: decrypting access token for %s: %v", ErrAuthUnavailable, account.Email, err)
		}
		return models.AuthMaterial{
			Mode:     models.AuthTypeOAuth,
			Username: account.Email,
			Secret:   access,
		}, nil
	}

	if len(account.EncryptedRefreshToken) == 0 {
		return models.AuthMaterial{}, fmt.Errorf("%w: account %s has an expired access token and no refresh token", ErrAuthUnavailable, account.Email)
	}

	refreshToken, err := s.encryptor.Decrypt(account.EncryptedRefreshToken)
	if err != nil {
		return models.AuthMaterial{}, fmt.Errorf("%w: decrypting refresh token for %s: %v", ErrAuthUnavailable, account.Email, err)
	}

	token, err := s.refresh(ctx, account.Provider, refreshToken)
	if err != nil {
		return models.AuthMaterial{}, fmt.Errorf("%w: account %s: %v", ErrAuthExpired, account.Email, err)
	}

	if err := s.persistTokens(ctx, account, token); err != nil {
		// The provider may already have rotated the refresh token; using a
		// token we failed to persist risks losing it on crash.
		return models.AuthMaterial{}, fmt.Errorf("failed to persist refreshed tokens for %s: %w", account.Email, err)
	}

	log.Printf("credentials: refreshed oauth token for %s (expires %s)", account.Email, token.Expiry.Format(time.RFC3339))

	return models.AuthMaterial{
		Mode:     models.AuthTypeOAuth,
		Username: account.Email,
		Secret:   token.AccessToken,
	}, nil
}

func (s *Store) refresh(ctx context.Context, provider, refreshToken string) (*oauth2.Token, error) {
	oc, ok := s.clients[provider]
	if !ok {
		return nil, fmt.Errorf("no oauth client configured for provider %q", provider)
	}

	conf := &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		Endpoint:     oc.Endpoint,
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}

	return token, nil
}

// persistTokens encrypts and stores the rotated token pair. The refresh token
// is only overwritten when the provider sent a new one.
func (s *Store) persistTokens(ctx context.Context, account *models.Account, token *oauth2.Token) error {
	encryptedAccess, err := s.encryptor.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	var encryptedRefresh []byte
	if token.RefreshToken != "" {
		encryptedRefresh, err = s.encryptor.Encrypt(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	if err := db.UpdateOAuthTokens(ctx, s.pool, account.ID, encryptedAccess, encryptedRefresh, token.Expiry); err != nil {
		return err
	}

	// Keep the in-memory account in step with the row just written.
	account.EncryptedAccessToken = encryptedAccess
	if encryptedRefresh != nil {
		account.EncryptedRefreshToken = encryptedRefresh
	}
	account.OAuthTokenExpiresAt = token.Expiry

	return nil
}
