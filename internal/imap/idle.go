package imap

import (
	"context"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

// idlePollInterval is the NOOP polling cadence used for servers that do not
// advertise the IDLE capability.
const idlePollInterval = time.Minute

// WaitForUpdates blocks in IMAP IDLE on the selected folder until the server
// reports a mailbox change, the context is canceled, or the connection fails.
// It returns nil exactly when the caller should look for new mail. The
// session should be logged out and discarded after this returns.
func (s *Session) WaitForUpdates(ctx context.Context) error {
	if s.state != stateSelected {
		return ErrBadState
	}

	// An IDLE wait legitimately sits quiet far longer than any ordinary
	// command round-trip; the per-command deadline would sever a healthy
	// session mid-wait. Lift it while idling and restore it for whatever the
	// caller does next. Liveness comes from the periodic IDLE restarts the
	// idle client performs on its own.
	commandDeadline := s.c.Timeout
	s.c.Timeout = 0
	defer func() { s.c.Timeout = commandDeadline }()

	updates := make(chan client.Update, 16)
	s.c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(s.c).IdleWithFallback(stop, idlePollInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			drainIdle(done, updates)
			return ctx.Err()
		case err := <-done:
			if err != nil {
				s.drop()
				return &ConnectionError{Op: "idle on " + s.host, Err: err}
			}
			// The server ended IDLE on its own; treat it as a wake so the
			// caller re-scans and then re-establishes the watch.
			return nil
		case update := <-updates:
			mbox, ok := update.(*client.MailboxUpdate)
			if !ok || mbox.Mailbox == nil || mbox.Mailbox.Messages == 0 {
				continue
			}
			close(stop)
			if err := drainIdle(done, updates); err != nil {
				s.drop()
				return &ConnectionError{Op: "idle on " + s.host, Err: err}
			}
			return nil
		}
	}
}

// drainIdle waits for the idle goroutine to finish, consuming pending updates
// so the client's reader never blocks on a full channel.
func drainIdle(done <-chan error, updates <-chan client.Update) error {
	for {
		select {
		case err := <-done:
			return err
		case <-updates:
		}
	}
}
