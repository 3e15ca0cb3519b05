package models

import "time"

// MessageRecord is one synchronized message. (AccountID, UID) is the natural
// key; re-fetching an already-stored UID overwrites the row.
type MessageRecord struct {
	ID              int64      `json:"id"`
	AccountID       int64      `json:"account_id"`
	UID             uint32     `json:"uid"`
	MessageIDHeader string     `json:"message_id_header"`
	ThreadID        string     `json:"thread_id"`
	Subject         string     `json:"subject"`
	Sender          string     `json:"sender"`
	Recipients      []string   `json:"recipients"`
	SentAt          *time.Time `json:"sent_at"`
	// RawPath is the path of the stored RFC 822 file, relative to the data dir.
	RawPath        string    `json:"raw_path"`
	HasAttachments bool      `json:"has_attachments"`
	IsRead         bool      `json:"is_read"`
	IsStarred      bool      `json:"is_starred"`
	CreatedAt      time.Time `json:"created_at"`
}

// Attachment is a stored attachment payload reference. Rows exist only for
// messages synced while attachment download was enabled.
type Attachment struct {
	ID          int64     `json:"id"`
	MessageID   int64     `json:"message_id"`
	Filename    string    `json:"filename"`
	FileType    string    `json:"file_type"`
	FileSize    int64     `json:"file_size"`
	MimeType    string    `json:"mime_type"`
	FilePath    string    `json:"file_path"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}
