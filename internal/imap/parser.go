package imap

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/mailsync/internal/models"
)

// AttachmentPart is one extracted attachment payload, not yet written
// anywhere.
type AttachmentPart struct {
	Filename string
	MimeType string
	Content  []byte
}

// ParsedMessage is a fetched message converted into storable form. The record
// still lacks AccountID and RawPath, which only the caller knows.
type ParsedMessage struct {
	Record      *models.MessageRecord
	Attachments []AttachmentPart
}

// ParseMessage converts a fetched message into a MessageRecord plus its
// attachment parts. MIME-level failures degrade to an envelope-only record
// rather than failing the message: the raw bytes are kept regardless, so
// nothing is lost.
func ParseMessage(fetched *FetchedMessage) *ParsedMessage {
	record := &models.MessageRecord{
		UID:     fetched.UID,
		Subject: "(No Subject)",
	}

	for _, flag := range fetched.Flags {
		switch flag {
		case imap.SeenFlag:
			record.IsRead = true
		case imap.FlaggedFlag:
			record.IsStarred = true
		}
	}

	if env := fetched.Envelope; env != nil {
		if env.Subject != "" {
			record.Subject = env.Subject
		}
		if len(env.From) > 0 {
			record.Sender = formatAddress(env.From[0])
		}
		record.Recipients = formatAddressList(env.To)
		if !env.Date.IsZero() {
			date := env.Date
			record.SentAt = &date
		}
		record.MessageIDHeader = normalizeMessageID(env.MessageId)
	}

	parsed := &ParsedMessage{Record: record}

	mime, err := enmime.ReadEnvelope(bytes.NewReader(fetched.Raw))
	if err != nil {
		log.Printf("imap: parse uid %d: %v", fetched.UID, err)
		record.MessageIDHeader = ensureMessageID(record.MessageIDHeader)
		record.ThreadID = record.MessageIDHeader
		return parsed
	}

	if record.MessageIDHeader == "" {
		record.MessageIDHeader = normalizeMessageID(mime.GetHeader("Message-Id"))
	}
	record.MessageIDHeader = ensureMessageID(record.MessageIDHeader)
	record.ThreadID = threadID(mime, record.MessageIDHeader)

	for _, part := range mime.Attachments {
		parsed.Attachments = append(parsed.Attachments, AttachmentPart{
			Filename: part.FileName,
			MimeType: part.ContentType,
			Content:  part.Content,
		})
	}
	record.HasAttachments = len(parsed.Attachments) > 0

	return parsed
}

// threadID derives a stable conversation id from reply headers: the first
// References entry (the thread root), else In-Reply-To, else the message's
// own id, which starts a new thread.
func threadID(mime *enmime.Envelope, messageID string) string {
	if refs := splitMessageIDs(mime.GetHeader("References")); len(refs) > 0 {
		return refs[0]
	}
	if replyTo := splitMessageIDs(mime.GetHeader("In-Reply-To")); len(replyTo) > 0 {
		return replyTo[0]
	}
	return messageID
}

// splitMessageIDs extracts the message ids from a References-style header,
// without their angle brackets.
func splitMessageIDs(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	var ids []string
	if strings.Contains(header, "<") {
		rest := header
		for {
			start := strings.Index(rest, "<")
			if start < 0 {
				break
			}
			end := strings.Index(rest[start:], ">")
			if end < 0 {
				break
			}
			if id := strings.TrimSpace(rest[start+1 : start+end]); id != "" {
				ids = append(ids, id)
			}
			rest = rest[start+end+1:]
		}
		return ids
	}

	// Malformed header without brackets: fall back to whitespace tokens.
	return strings.Fields(header)
}

// normalizeMessageID strips the angle brackets servers usually include.
func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// ensureMessageID substitutes a generated id when the message carries none.
// The id must be unique per message, never shared: two id-less messages with
// the same fallback would collapse into one thread.
func ensureMessageID(id string) string {
	if id != "" {
		return id
	}
	return "generated-" + uuid.NewString()
}

// formatAddress renders an IMAP address as "Name <user@host>", or just
// "user@host" when no display name is present.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}
	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	email := address.MailboxName + "@" + address.HostName
	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", address.PersonalName, email)
	}
	return email
}

func formatAddressList(addresses []*imap.Address) []string {
	if len(addresses) == 0 {
		return nil
	}

	formatted := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if s := formatAddress(address); s != "" {
			formatted = append(formatted, s)
		}
	}
	return formatted
}
