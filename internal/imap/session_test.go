package imap_test

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
)

func passwordMaterial(srv *testutil.TestIMAPServer) models.AuthMaterial {
	return models.AuthMaterial{
		Mode:     models.AuthTypePassword,
		Username: srv.Username(),
		Secret:   srv.Password(),
	}
}

func addMessage(t *testing.T, srv *testutil.TestIMAPServer, n int) uint32 {
	t.Helper()
	return srv.AddMessage(t, "INBOX",
		fmt.Sprintf("session-test-%d@example.com", n),
		"Session test message",
		"sender@example.com", "rcpt@example.com",
		time.Date(2024, 3, 1, 10, n, 0, 0, time.UTC))
}

func TestConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	_, err = imap.Connect("127.0.0.1", port, false)
	require.Error(t, err)
	assert.True(t, imap.IsConnectionError(err))
}

func TestConnectTLSAgainstPlaintextServer(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	host, port := srv.HostPort(t)

	_, err := imap.Connect(host, port, true)
	require.Error(t, err)
	assert.True(t, imap.IsTLSError(err), "a non-TLS endpoint must surface as a TLS failure, got %v", err)
}

func TestAuthenticatePassword(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)
	defer session.Logout()

	require.NoError(t, session.Authenticate(passwordMaterial(srv)))
}

func TestAuthenticateBadPassword(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)

	err = session.Authenticate(models.AuthMaterial{
		Mode:     models.AuthTypePassword,
		Username: srv.Username(),
		Secret:   "wrong",
	})
	require.Error(t, err)
	assert.True(t, imap.IsAuthRejected(err))

	// The session is dropped; nothing else is usable on it.
	_, err = session.SelectFolder("INBOX")
	assert.ErrorIs(t, err, imap.ErrBadState)
}

func TestAuthenticateXOAuth2(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.EnableXOAuth2("valid-token")
	host, port := srv.HostPort(t)

	t.Run("valid token", func(t *testing.T) {
		session, err := imap.Connect(host, port, false)
		require.NoError(t, err)
		defer session.Logout()

		err = session.Authenticate(models.AuthMaterial{
			Mode:     models.AuthTypeOAuth,
			Username: srv.Username(),
			Secret:   "valid-token",
		})
		require.NoError(t, err)

		_, err = session.SelectFolder("INBOX")
		require.NoError(t, err)
	})

	t.Run("rejected token", func(t *testing.T) {
		session, err := imap.Connect(host, port, false)
		require.NoError(t, err)

		err = session.Authenticate(models.AuthMaterial{
			Mode:     models.AuthTypeOAuth,
			Username: srv.Username(),
			Secret:   "expired-token",
		})
		require.Error(t, err)
		assert.True(t, imap.IsAuthRejected(err))
	})
}

func TestSelectFolder(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)
	defer session.Logout()
	require.NoError(t, session.Authenticate(passwordMaterial(srv)))

	mailbox, err := session.SelectFolder("INBOX")
	require.NoError(t, err)
	assert.Equal(t, "INBOX", mailbox.Name)
	assert.NotZero(t, mailbox.UIDValidity, "UIDVALIDITY is required for any UID bookkeeping")

	_, err = session.SelectFolder("NoSuchFolder")
	require.Error(t, err)
	assert.True(t, imap.IsFolderNotFound(err))

	// A missing folder is not fatal to the session.
	_, err = session.SelectFolder("INBOX")
	require.NoError(t, err)
}

func TestListFolders(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)
	defer session.Logout()
	require.NoError(t, session.Authenticate(passwordMaterial(srv)))

	folders, err := session.ListFolders()
	require.NoError(t, err)
	assert.Contains(t, folders, "INBOX")
}

func TestFetchUIDs(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.ClearINBOX(t)
	uids := []uint32{
		addMessage(t, srv, 1),
		addMessage(t, srv, 2),
		addMessage(t, srv, 3),
	}
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)
	defer session.Logout()
	require.NoError(t, session.Authenticate(passwordMaterial(srv)))
	_, err = session.SelectFolder("INBOX")
	require.NoError(t, err)

	t.Run("from the beginning", func(t *testing.T) {
		got, err := session.FetchUIDs(0)
		require.NoError(t, err)
		assert.Equal(t, uids, got)
	})

	t.Run("from the middle", func(t *testing.T) {
		got, err := session.FetchUIDs(uids[1])
		require.NoError(t, err)
		assert.Equal(t, uids[1:], got)
	})

	t.Run("past the end", func(t *testing.T) {
		// Servers expand "N:*" to at least the highest existing UID, so a
		// fully synced mailbox must still produce an empty pending list.
		got, err := session.FetchUIDs(uids[2] + 1)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestFetchMessage(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.ClearINBOX(t)
	uid := srv.AddRawMessage(t, "INBOX", nil, strings.Join([]string{
		"Message-Id: <round-trip@example.com>",
		"Date: Fri, 01 Mar 2024 10:00:00 +0000",
		"From: alice@example.com",
		"To: bob@example.com",
		"Subject: Fetch me",
		"Content-Type: text/plain",
		"",
		"round trip body",
		"",
	}, "\r\n"))
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)
	defer session.Logout()
	require.NoError(t, session.Authenticate(passwordMaterial(srv)))
	_, err = session.SelectFolder("INBOX")
	require.NoError(t, err)

	fetched, err := session.FetchMessage(uid)
	require.NoError(t, err)
	assert.Equal(t, uid, fetched.UID)
	require.NotNil(t, fetched.Envelope)
	assert.Equal(t, "Fetch me", fetched.Envelope.Subject)
	assert.Contains(t, string(fetched.Raw), "Subject: Fetch me")
	assert.Contains(t, string(fetched.Raw), "round trip body")

	_, err = session.FetchMessage(uid + 1000)
	require.Error(t, err)
	assert.True(t, imap.IsFetchError(err), "a missing uid is a per-message failure, got %v", err)
}

func TestSessionStateEnforcement(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)
	defer session.Logout()

	_, err = session.SelectFolder("INBOX")
	assert.ErrorIs(t, err, imap.ErrBadState, "select before authenticate")

	_, err = session.FetchUIDs(1)
	assert.ErrorIs(t, err, imap.ErrBadState, "fetch before select")

	_, err = session.FetchMessage(1)
	assert.ErrorIs(t, err, imap.ErrBadState, "fetch before select")

	require.NoError(t, session.Authenticate(passwordMaterial(srv)))

	err = session.Authenticate(passwordMaterial(srv))
	assert.ErrorIs(t, err, imap.ErrBadState, "authenticate twice")

	_, err = session.FetchUIDs(1)
	assert.ErrorIs(t, err, imap.ErrBadState, "fetch before select, even when authenticated")
}

func TestLogoutIsIdempotent(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	host, port := srv.HostPort(t)

	session, err := imap.Connect(host, port, false)
	require.NoError(t, err)
	require.NoError(t, session.Authenticate(passwordMaterial(srv)))

	session.Logout()
	session.Logout()

	_, err = session.SelectFolder("INBOX")
	assert.ErrorIs(t, err, imap.ErrBadState)
}
