package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrAccountNotFound is returned when a requested account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when creating an account whose email is already registered.
var ErrAccountExists = errors.New("account already exists")

const accountColumns = `
	id,
	email,
	provider,
	imap_host,
	imap_port,
	imap_tls,
	auth_type,
	encrypted_password,
	encrypted_access_token,
	encrypted_refresh_token,
	oauth_token_expires_at,
	last_synced_uid,
	uid_validity,
	created_at,
	updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	var expiresAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Provider,
		&a.IMAPHost,
		&a.IMAPPort,
		&a.IMAPTLS,
		&a.AuthType,
		&a.EncryptedPassword,
		&a.EncryptedAccessToken,
		&a.EncryptedRefreshToken,
		&expiresAt,
		&a.LastSyncedUID,
		&a.UIDValidity,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt != nil {
		a.OAuthTokenExpiresAt = *expiresAt
	}

	return &a, nil
}

// CreateAccount inserts a new account and returns its id.
func CreateAccount(ctx context.Context, pool *pgxpool.Pool, account *models.Account) (int64, error) {
	var expiresAt *time.Time
	if !account.OAuthTokenExpiresAt.IsZero() {
		expiresAt = &account.OAuthTokenExpiresAt
	}

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO accounts (
			email,
			provider,
			imap_host,
			imap_port,
			imap_tls,
			auth_type,
			encrypted_password,
			encrypted_access_token,
			encrypted_refresh_token,
			oauth_token_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`,
		account.Email,
		account.Provider,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPTLS,
		account.AuthType,
		account.EncryptedPassword,
		account.EncryptedAccessToken,
		account.EncryptedRefreshToken,
		expiresAt,
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrAccountExists, account.Email)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create account: %w", err)
	}

	account.ID = id
	return id, nil
}

// GetAccount returns the account with the given id.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, id int64) (*models.Account, error) {
	account, err := scanAccount(pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// GetAccountByEmail returns the account with the given email address.
func GetAccountByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (*models.Account, error) {
	account, err := scanAccount(pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// ListAccounts returns all accounts, newest first.
func ListAccounts(ctx context.Context, pool *pgxpool.Pool) ([]*models.Account, error) {
	rows, err := pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateOAuthTokens stores a refreshed token pair for the account. This write
// must land before the new access token is used, so a crash cannot lose a
// token the provider has already rotated.
func UpdateOAuthTokens(ctx context.Context, pool *pgxpool.Pool, accountID int64, encryptedAccess, encryptedRefresh []byte, expiresAt time.Time) error {
	tag, err := pool.Exec(ctx, `
		UPDATE accounts SET
			encrypted_access_token = $2,
			encrypted_refresh_token = COALESCE($3, encrypted_refresh_token),
			oauth_token_expires_at = $4,
			updated_at = NOW()
		WHERE id = $1
	`, accountID, encryptedAccess, encryptedRefresh, expiresAt)

	if err != nil {
		return fmt.Errorf("failed to update oauth tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// UpdateUIDValidity records the mailbox instance marker observed at SELECT time.
func UpdateUIDValidity(ctx context.Context, pool *pgxpool.Pool, accountID int64, uidValidity uint32) error {
	tag, err := pool.Exec(ctx, `
		UPDATE accounts SET uid_validity = $2, updated_at = NOW() WHERE id = $1
	`, accountID, int64(uidValidity))

	if err != nil {
		return fmt.Errorf("failed to update uid validity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}
