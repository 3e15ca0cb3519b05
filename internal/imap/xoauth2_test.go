package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXOAuth2InitialResponse(t *testing.T) {
	client := NewXOAuth2Client("user@example.com", "ya29.token")

	mech, ir, err := client.Start()
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=user@example.com\x01auth=Bearer ya29.token\x01\x01", string(ir))
}

func TestXOAuth2ErrorChallenge(t *testing.T) {
	client := NewXOAuth2Client("user@example.com", "bad-token")

	_, _, err := client.Start()
	require.NoError(t, err)

	// On failure the server sends a JSON error blob; the client must answer
	// with an empty response so the server can issue its final NO.
	response, err := client.Next([]byte(`{"status":"401"}`))
	require.NoError(t, err)
	assert.NotNil(t, response)
	assert.Empty(t, response)
}
