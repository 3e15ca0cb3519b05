package models

import "time"

// AuthType identifies how an account authenticates against its IMAP server.
type AuthType string

const (
	AuthTypePassword AuthType = "password"
	AuthTypeOAuth    AuthType = "oauth"
)

// Account is a configured mailbox the engine synchronizes.
// Credential fields hold AES-GCM ciphertext and never leave the process decrypted
// except on their way into an IMAP session or a token refresh request.
type Account struct {
	ID       int64    `json:"id"`
	Email    string   `json:"email"`
	Provider string   `json:"provider"`
	IMAPHost string   `json:"imap_host"`
	IMAPPort int      `json:"imap_port"`
	IMAPTLS  bool     `json:"imap_tls"`
	AuthType AuthType `json:"auth_type"`

	EncryptedPassword     []byte `json:"-"`
	EncryptedAccessToken  []byte `json:"-"`
	EncryptedRefreshToken []byte `json:"-"`
	// OAuthTokenExpiresAt is zero for password accounts.
	OAuthTokenExpiresAt time.Time `json:"-"`

	// LastSyncedUID is the high-water mark: the highest UID whose message
	// record is durable. 0 means the account has never been synced.
	LastSyncedUID uint32 `json:"last_synced_uid"`
	// UIDValidity is the mailbox instance marker recorded on first SELECT.
	// 0 means not yet observed.
	UIDValidity uint32 `json:"uid_validity"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthMaterial is a decrypted, ready-to-use credential for one IMAP login.
// Secret is the password for password accounts and the OAuth access token for
// OAuth accounts. It lives only on the stack of an active sync.
type AuthMaterial struct {
	Mode     AuthType
	Username string
	Secret   string
}

// AccountResponse is the account representation returned by the API.
// It carries no credential material.
type AccountResponse struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Provider      string    `json:"provider"`
	AuthType      AuthType  `json:"auth_type"`
	LastSyncedUID uint32    `json:"last_synced_uid"`
	CreatedAt     time.Time `json:"created_at"`
}

// AddAccountRequest is the payload for creating a password-authenticated account.
// The IMAP fields are only consulted when the email's domain is not in the
// provider registry.
type AddAccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IMAPHost string `json:"imap_host,omitempty"`
	IMAPPort int    `json:"imap_port,omitempty"`
	IMAPTLS  bool   `json:"imap_tls,omitempty"`
}

// AddOAuthAccountRequest is the payload for creating an OAuth account. The token
// pair comes from the external authorization flow; ExpiresIn is in seconds.
type AddOAuthAccountRequest struct {
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
