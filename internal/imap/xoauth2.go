package imap

import (
	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the SASL XOAUTH2 mechanism used by Gmail and
// Outlook for IMAP bearer-token authentication.
type xoauth2Client struct {
	username string
	token    string
}

// NewXOAuth2Client returns a sasl.Client that authenticates with an OAuth
// access token.
func NewXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

// Start returns the mechanism name and the XOAUTH2 initial response:
// "user=<user>\x01auth=Bearer <token>\x01\x01".
func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

// Next handles the server's error challenge. XOAUTH2 has no challenge on
// success; on failure the server sends a JSON blob and expects an empty
// response before issuing its final NO.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
