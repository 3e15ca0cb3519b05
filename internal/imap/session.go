package imap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/vdavid/mailsync/internal/models"
)

const (
	// dialTimeout bounds TCP connect plus TLS handshake.
	dialTimeout = 10 * time.Second
	// commandTimeout bounds every IMAP command round-trip after that.
	commandTimeout = 30 * time.Second
)

// ErrBadState is wrapped by errors returned when a session operation is
// called out of order.
var ErrBadState = errors.New("imap: operation invalid in current session state")

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnected
	stateAuthenticated
	stateSelected
)

// Mailbox describes a selected folder.
type Mailbox struct {
	Name        string
	Messages    uint32
	UIDNext     uint32
	UIDValidity uint32
}

// FetchedMessage is one downloaded message: the full raw bytes plus the
// server-side metadata the store records.
type FetchedMessage struct {
	UID      uint32
	Raw      []byte
	Envelope *imap.Envelope
	Flags    []string
}

// Session is a single IMAP protocol conversation. IMAP sessions are strictly
// sequential, so a Session must only be used from one goroutine. Operations
// follow Connect -> Authenticate -> SelectFolder -> fetches -> Logout; any
// failure drops the session back to disconnected.
type Session struct {
	c     *client.Client
	host  string
	state sessionState
}

// Connect opens a session to host:port. With useTLS the connection is
// TLS-wrapped from the first byte and never downgrades; without it the
// connection is plaintext (local test servers only).
func Connect(host string, port int, useTLS bool) (*Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	if !useTLS {
		c, err := client.DialWithDialer(dialer, addr)
		if err != nil {
			return nil, &ConnectionError{Op: "dial " + addr, Err: err}
		}
		c.Timeout = commandTimeout
		return &Session{c: c, host: host, state: stateConnected}, nil
	}

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial " + addr, Err: err}
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
	_ = tlsConn.SetDeadline(time.Now().Add(dialTimeout))
	if err := tlsConn.Handshake(); err != nil {
		_ = conn.Close()
		return nil, &TLSError{Host: host, Err: err}
	}
	_ = tlsConn.SetDeadline(time.Time{})

	c, err := client.New(tlsConn)
	if err != nil {
		_ = tlsConn.Close()
		return nil, &ConnectionError{Op: "greeting from " + addr, Err: err}
	}

	c.Timeout = commandTimeout
	return &Session{c: c, host: host, state: stateConnected}, nil
}

// Authenticate sends credentials: LOGIN for password accounts, SASL XOAUTH2
// for OAuth accounts. A server refusal is AuthRejectedError; a transport
// failure during the exchange is ConnectionError.
func (s *Session) Authenticate(material models.AuthMaterial) error {
	if s.state != stateConnected {
		return fmt.Errorf("%w: authenticate requires a freshly connected session", ErrBadState)
	}

	var err error
	switch material.Mode {
	case models.AuthTypeOAuth:
		err = s.c.Authenticate(NewXOAuth2Client(material.Username, material.Secret))
	default:
		err = s.c.Login(material.Username, material.Secret)
	}

	if err != nil {
		s.drop()
		if isNetworkError(err) {
			return &ConnectionError{Op: "authenticate", Err: err}
		}
		return &AuthRejectedError{Err: err}
	}

	s.state = stateAuthenticated
	return nil
}

// SelectFolder selects a mailbox read-only and returns its counters,
// including UIDVALIDITY, which the caller compares against the stored value
// before trusting any UID arithmetic.
func (s *Session) SelectFolder(name string) (*Mailbox, error) {
	if s.state != stateAuthenticated && s.state != stateSelected {
		return nil, fmt.Errorf("%w: select requires an authenticated session", ErrBadState)
	}

	status, err := s.c.Select(name, true)
	if err != nil {
		if isNetworkError(err) {
			s.drop()
			return nil, &ConnectionError{Op: "select " + name, Err: err}
		}
		return nil, &FolderNotFoundError{Name: name, Err: err}
	}

	s.state = stateSelected
	return &Mailbox{
		Name:        name,
		Messages:    status.Messages,
		UIDNext:     status.UidNext,
		UIDValidity: status.UidValidity,
	}, nil
}

// ListFolders enumerates the account's mailboxes in server order.
func (s *Session) ListFolders() ([]string, error) {
	if s.state != stateAuthenticated && s.state != stateSelected {
		return nil, fmt.Errorf("%w: list requires an authenticated session", ErrBadState)
	}

	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var names []string
	for mb := range mailboxes {
		names = append(names, mb.Name)
	}

	if err := <-done; err != nil {
		s.drop()
		return nil, &ConnectionError{Op: "list folders", Err: err}
	}

	return names, nil
}

// FetchUIDs resolves "fromUID to highest" against the server's UID index and
// returns the matching UIDs in ascending order.
func (s *Session) FetchUIDs(fromUID uint32) ([]uint32, error) {
	if s.state != stateSelected {
		return nil, fmt.Errorf("%w: fetch requires a selected folder", ErrBadState)
	}
	if fromUID == 0 {
		fromUID = 1
	}

	criteria := imap.NewSearchCriteria()
	set := new(imap.SeqSet)
	set.AddRange(fromUID, 0)
	criteria.Uid = set

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		s.drop()
		return nil, &ConnectionError{Op: "uid search", Err: err}
	}

	// Servers resolve "N:*" to at least the highest existing UID even when
	// that UID is below N, so filter before trusting the result.
	result := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid >= fromUID {
			result = append(result, uid)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	return result, nil
}

// FetchMessage downloads one message's full content without marking it read,
// along with its envelope and flags. Failures that leave the connection
// usable surface as FetchError so the caller can skip the UID and continue.
func (s *Session) FetchMessage(uid uint32) (*FetchedMessage, error) {
	if s.state != stateSelected {
		return nil, fmt.Errorf("%w: fetch requires a selected folder", ErrBadState)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if msg == nil {
			msg = m
		}
	}

	if err := <-done; err != nil {
		if isNetworkError(err) {
			s.drop()
			return nil, &ConnectionError{Op: fmt.Sprintf("fetch uid %d", uid), Err: err}
		}
		return nil, &FetchError{UID: uid, Err: err}
	}
	if msg == nil {
		return nil, &FetchError{UID: uid, Err: errors.New("server returned no data")}
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, &FetchError{UID: uid, Err: errors.New("server returned no body section")}
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{UID: uid, Err: err}
	}

	return &FetchedMessage{
		UID:      uid,
		Raw:      raw,
		Envelope: msg.Envelope,
		Flags:    msg.Flags,
	}, nil
}

// Logout closes the session gracefully. Best effort: by the time logout runs
// the sync's data effects are already committed, so errors are only logged.
func (s *Session) Logout() {
	if s.c == nil || s.state == stateDisconnected {
		return
	}
	if err := s.c.Logout(); err != nil {
		log.Printf("imap: logout from %s: %v", s.host, err)
	}
	s.state = stateDisconnected
	s.c = nil
}

// drop terminates the connection after an unrecoverable error.
func (s *Session) drop() {
	if s.c != nil {
		_ = s.c.Terminate()
	}
	s.state = stateDisconnected
	s.c = nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF)
}
