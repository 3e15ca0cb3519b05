package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/emersion/go-sasl"
)

// notifyingBackend wraps the memory backend with an update channel so the
// server delivers unsolicited EXISTS responses to idling connections, the way
// a real provider announces new mail.
type notifyingBackend struct {
	*memory.Backend
	updates chan backend.Update
}

func (b *notifyingBackend) Updates() <-chan backend.Update {
	return b.updates
}

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	updates  chan backend.Update
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend.
// The memory backend creates a default user with username "username" and
// password "password", and seeds INBOX with one message; call ClearINBOX when
// a test needs exact counts.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	srv, err := NewTestIMAPServerForE2E()
	if err != nil {
		t.Fatalf("Failed to start test IMAP server: %v", err)
	}
	t.Cleanup(srv.Close)

	return srv
}

// NewTestIMAPServerForE2E creates a test IMAP server outside a test context,
// for the dev server binary. The caller owns the Close call.
func NewTestIMAPServerForE2E() (*TestIMAPServer, error) {
	// Create an in-memory backend, wrapped so appends can announce new mail
	// to idling connections
	be := memory.New()
	updates := make(chan backend.Update, 32)

	// Create server with the IDLE extension, like every real provider
	s := server.New(&notifyingBackend{Backend: be, updates: updates})
	s.AllowInsecureAuth = true
	s.Enable(idle.NewExtension())

	// Start server on random port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	addr := listener.Addr().String()

	// Start server in goroutine
	go func() {
		_ = s.Serve(listener)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Memory backend creates a default user with these credentials
	return &TestIMAPServer{
		Server:   s,
		Address:  addr,
		Backend:  be,
		updates:  updates,
		cleanup:  func() { _ = s.Close() },
		username: "username",
		password: "password",
	}, nil
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// HostPort returns the server's listen host and port separately.
func (s *TestIMAPServer) HostPort(t *testing.T) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.Address)
	if err != nil {
		t.Fatalf("Failed to split address %q: %v", s.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse port %q: %v", portStr, err)
	}

	return host, port
}

// EnableXOAuth2 registers an XOAUTH2 mechanism that accepts the default user
// with exactly the given access token.
func (s *TestIMAPServer) EnableXOAuth2(token string) {
	backend := s.Backend
	username := s.username
	password := s.password

	s.Server.EnableAuth("XOAUTH2", func(conn server.Conn) sasl.Server {
		return &xoauth2ServerMech{
			authenticate: func(user, presented string) error {
				if user != username {
					return errors.New("unknown user")
				}
				if presented != token {
					return errors.New("invalid token")
				}

				u, err := backend.Login(conn.Info(), username, password)
				if err != nil {
					return err
				}

				ctx := conn.Context()
				ctx.State = imap.AuthenticatedState
				ctx.User = u
				return nil
			},
		}
	})
}

// xoauth2ServerMech is a minimal server-side XOAUTH2 implementation for tests.
type xoauth2ServerMech struct {
	authenticate func(user, token string) error
	done         bool
}

func (m *xoauth2ServerMech) Next(response []byte) ([]byte, bool, error) {
	if m.done {
		return nil, true, nil
	}
	// No initial response yet: issue an empty challenge to request it.
	if response == nil {
		return []byte{}, false, nil
	}

	user, token, err := parseXOAuth2Response(response)
	if err != nil {
		return nil, false, err
	}
	if err := m.authenticate(user, token); err != nil {
		return nil, false, err
	}

	m.done = true
	return nil, true, nil
}

// parseXOAuth2Response decodes "user=U\x01auth=Bearer T\x01\x01".
func parseXOAuth2Response(response []byte) (user, token string, err error) {
	parts := bytes.Split(response, []byte{0x01})
	for _, part := range parts {
		s := string(part)
		switch {
		case strings.HasPrefix(s, "user="):
			user = strings.TrimPrefix(s, "user=")
		case strings.HasPrefix(s, "auth=Bearer "):
			token = strings.TrimPrefix(s, "auth=Bearer ")
		}
	}
	if user == "" || token == "" {
		return "", "", errors.New("malformed xoauth2 response")
	}
	return user, token, nil
}

// connect opens an authenticated client connection.
func (s *TestIMAPServer) connect() (*imapclient.Client, error) {
	client, err := imapclient.Dial(s.Address)
	if err != nil {
		return nil, err
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		return nil, err
	}

	return client, nil
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := s.connect()
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// ClearINBOX removes every message from INBOX, including the memory backend's
// seeded one, so tests can rely on exact UID sets.
func (s *TestIMAPServer) ClearINBOX(t *testing.T) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	mbox, err := client.Select("INBOX", false)
	if err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
	if mbox.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, 0)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := client.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to mark messages deleted: %v", err)
	}
	if err := client.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge: %v", err)
	}
}

// AddMessage adds a simple test message to the specified folder and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName, messageID, subject, from, to string, sentAt time.Time) uint32 {
	t.Helper()

	raw := fmt.Sprintf(`Message-ID: <%s>
Date: %s
From: %s
To: %s
Subject: %s
Content-Type: text/plain; charset=utf-8

Test message body.
`, messageID, sentAt.Format(time.RFC1123Z), from, to, subject)

	return s.AddRawMessage(t, folderName, nil, raw)
}

// AddRawMessage appends a full RFC 822 message with the given flags and
// returns its UID.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, folderName string, flags []string, raw string) uint32 {
	t.Helper()

	uid, err := s.AppendMessage(folderName, flags, raw)
	if err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
	return uid
}

// AppendMessage is the non-test variant of AddRawMessage, used by the dev
// server binary to seed mailboxes.
func (s *TestIMAPServer) AppendMessage(folderName string, flags []string, raw string) (uint32, error) {
	client, err := s.connect()
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Logout() }()

	if _, err := client.Select(folderName, false); err != nil {
		return 0, fmt.Errorf("failed to select folder: %w", err)
	}

	// IMAP wants CRLF line endings.
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n", "\r\n")

	if err := client.Append(folderName, flags, time.Now(), strings.NewReader(raw)); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	// The append went to the end, so the highest UID is the new message.
	criteria := imap.NewSearchCriteria()
	all := new(imap.SeqSet)
	all.AddRange(1, 0)
	criteria.Uid = all
	uids, err := client.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for message: %w", err)
	}
	if len(uids) == 0 {
		return 0, errors.New("message not found after append")
	}

	maxUID := uids[0]
	for _, uid := range uids[1:] {
		if uid > maxUID {
			maxUID = uid
		}
	}

	// Announce the new message count so idling connections get an EXISTS.
	status := imap.NewMailboxStatus(folderName, []imap.StatusItem{imap.StatusMessages})
	status.Messages = uint32(len(uids))
	s.updates <- &backend.MailboxUpdate{
		Update:        backend.NewUpdate(s.username, folderName),
		MailboxStatus: status,
	}

	return maxUID, nil
}
