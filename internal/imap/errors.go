package imap

import (
	"errors"
	"fmt"
)

// ConnectionError reports a network-level failure: dial timeout, refused
// connection, or a dead socket mid-command. Retryable by the caller's
// scheduling policy.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TLSError reports a certificate or handshake failure. Never retried
// silently; the user has to see it.
type TLSError struct {
	Host string
	Err  error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("imap: tls handshake with %s: %v", e.Host, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// AuthRejectedError reports that the server refused the presented
// credentials. Distinct from ConnectionError so callers can tell "the secret
// is bad" from "the network is down".
type AuthRejectedError struct {
	Err error
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("imap: authentication rejected: %v", e.Err)
}

func (e *AuthRejectedError) Unwrap() error { return e.Err }

// FolderNotFoundError reports a SELECT against a mailbox the server does not
// have. A configuration problem, fatal for the run.
type FolderNotFoundError struct {
	Name string
	Err  error
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("imap: folder %q not found: %v", e.Name, e.Err)
}

func (e *FolderNotFoundError) Unwrap() error { return e.Err }

// FetchError reports a failure fetching one message. Isolated per UID: the
// batch continues past it.
type FetchError struct {
	UID uint32
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("imap: fetch uid %d: %v", e.UID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or its chain) is a ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsTLSError reports whether err (or its chain) is a TLSError.
func IsTLSError(err error) bool {
	var target *TLSError
	return errors.As(err, &target)
}

// IsAuthRejected reports whether err (or its chain) is an AuthRejectedError.
func IsAuthRejected(err error) bool {
	var target *AuthRejectedError
	return errors.As(err, &target)
}

// IsFolderNotFound reports whether err (or its chain) is a FolderNotFoundError.
func IsFolderNotFound(err error) bool {
	var target *FolderNotFoundError
	return errors.As(err, &target)
}

// IsFetchError reports whether err (or its chain) is a FetchError.
func IsFetchError(err error) bool {
	var target *FetchError
	return errors.As(err, &target)
}
