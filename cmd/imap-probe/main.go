// Command imap-probe checks a mailbox against the same session layer the sync
// engine uses. A mailbox that passes the probe will sync.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

func main() {
	log.Println("Starting IMAP probe...")

	cfg, err := configFromEnv()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if err := runProbe(cfg); err != nil {
		log.Fatalf("Probe failed: %v", err)
	}

	log.Println("Probe finished: mailbox is syncable")
}

type probeConfig struct {
	host     string
	port     int
	useTLS   bool
	username string
	password string
	folder   string
}

// configFromEnv reads the MAILSYNC_PROBE_* variables. HOST, USER and PASSWORD
// are required; PORT defaults to 993, TLS to true, FOLDER to INBOX.
func configFromEnv() (probeConfig, error) {
	cfg := probeConfig{
		host:     os.Getenv("MAILSYNC_PROBE_HOST"),
		username: os.Getenv("MAILSYNC_PROBE_USER"),
		password: os.Getenv("MAILSYNC_PROBE_PASSWORD"),
		folder:   os.Getenv("MAILSYNC_PROBE_FOLDER"),
		port:     993,
		useTLS:   true,
	}

	if cfg.host == "" || cfg.username == "" || cfg.password == "" {
		return probeConfig{}, fmt.Errorf("MAILSYNC_PROBE_HOST, MAILSYNC_PROBE_USER, and MAILSYNC_PROBE_PASSWORD are required")
	}

	if portStr := os.Getenv("MAILSYNC_PROBE_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return probeConfig{}, fmt.Errorf("MAILSYNC_PROBE_PORT is not a valid port: %q", portStr)
		}
		cfg.port = port
	}

	if tlsStr := os.Getenv("MAILSYNC_PROBE_TLS"); tlsStr != "" {
		useTLS, err := strconv.ParseBool(tlsStr)
		if err != nil {
			return probeConfig{}, fmt.Errorf("MAILSYNC_PROBE_TLS is not a valid boolean: %q", tlsStr)
		}
		cfg.useTLS = useTLS
	}

	if cfg.folder == "" {
		cfg.folder = "INBOX"
	}

	return cfg, nil
}

// runProbe walks the exact session sequence a sync run performs and reports
// each step.
func runProbe(cfg probeConfig) error {
	session, err := imap.Connect(cfg.host, cfg.port, cfg.useTLS)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer session.Logout()
	log.Printf("Connected to %s:%d (tls=%t)", cfg.host, cfg.port, cfg.useTLS)

	material := models.AuthMaterial{
		Mode:     models.AuthTypePassword,
		Username: cfg.username,
		Secret:   cfg.password,
	}
	if err := session.Authenticate(material); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	log.Printf("Authenticated as %s", cfg.username)

	folders, err := session.ListFolders()
	if err != nil {
		return fmt.Errorf("list folders: %w", err)
	}
	log.Printf("Folders (%d): %v", len(folders), folders)

	mailbox, err := session.SelectFolder(cfg.folder)
	if err != nil {
		return fmt.Errorf("select %s: %w", cfg.folder, err)
	}
	log.Printf("Selected %s: %d messages, uidvalidity %d, uidnext %d",
		mailbox.Name, mailbox.Messages, mailbox.UIDValidity, mailbox.UIDNext)

	uids, err := session.FetchUIDs(0)
	if err != nil {
		return fmt.Errorf("fetch uids: %w", err)
	}
	log.Printf("Pending UIDs from scratch: %d", len(uids))
	if len(uids) == 0 {
		return nil
	}

	// Download the newest message as a fetch smoke test.
	uid := uids[len(uids)-1]
	fetched, err := session.FetchMessage(uid)
	if err != nil {
		return fmt.Errorf("fetch message %d: %w", uid, err)
	}

	parsed := imap.ParseMessage(fetched)
	log.Printf("Fetched UID %d: %q from %s (%d bytes raw, %d attachments)",
		uid, parsed.Record.Subject, parsed.Record.Sender, len(fetched.Raw), len(parsed.Attachments))

	return nil
}
