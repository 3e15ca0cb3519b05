// Package rawstore persists raw message bytes and extracted attachment
// payloads on disk. The database stores only relative paths into this store;
// downstream consumers (body rendering, indexing) read the files directly.
package rawstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes files under a single root directory. Paths handed out (and
// persisted in the database) are relative to that root, so the root can move
// without rewriting rows.
type Store struct {
	root string
}

// New returns a store rooted at dir. The directory is created lazily on first
// write.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// AbsPath resolves a stored relative path to an absolute one.
func (s *Store) AbsPath(rel string) string {
	return filepath.Join(s.root, rel)
}

// SaveRawMessage writes the full RFC 822 bytes for one message and returns the
// relative path to record on the message row. The path is keyed by account and
// UID, so re-fetching the same message overwrites the same file.
func (s *Store) SaveRawMessage(accountID int64, uid uint32, data []byte) (string, error) {
	rel := filepath.Join("raw", fmt.Sprintf("%d", accountID), fmt.Sprintf("%d.eml", uid))
	if err := s.write(rel, data); err != nil {
		return "", fmt.Errorf("failed to save raw message: %w", err)
	}
	return rel, nil
}

// SavedAttachment describes an attachment payload after it has been written.
type SavedAttachment struct {
	Path     string // relative path under the store root
	Size     int64
	SHA256   string
	FileType string // lowercased filename extension, "unknown" when absent
}

// SaveAttachment writes one attachment payload under
// attachments/{file_type}/{account_id}/{uid}/{sanitized_filename} and returns
// its path, size and content hash. The filename recorded in the database keeps
// its original form; only the on-disk name is sanitized.
func (s *Store) SaveAttachment(accountID int64, uid uint32, filename string, data []byte) (*SavedAttachment, error) {
	fileType := FileExtension(filename)
	rel := filepath.Join(
		"attachments",
		fileType,
		fmt.Sprintf("%d", accountID),
		fmt.Sprintf("%d", uid),
		SanitizeFilename(filename),
	)
	if err := s.write(rel, data); err != nil {
		return nil, fmt.Errorf("failed to save attachment %q: %w", filename, err)
	}

	sum := sha256.Sum256(data)
	return &SavedAttachment{
		Path:     rel,
		Size:     int64(len(data)),
		SHA256:   hex.EncodeToString(sum[:]),
		FileType: fileType,
	}, nil
}

// Remove deletes stored files by their relative paths. Missing files are not
// an error; reset must succeed even when the disk and the database disagree.
func (s *Store) Remove(relPaths ...string) error {
	for _, rel := range relPaths {
		if rel == "" {
			continue
		}
		if err := os.Remove(s.AbsPath(rel)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", rel, err)
		}
	}
	return nil
}

func (s *Store) write(rel string, data []byte) error {
	abs := s.AbsPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, data, 0o644)
}

// SanitizeFilename replaces path separators and other characters unsafe in
// filenames with underscores, preventing traversal out of the store.
func SanitizeFilename(name string) string {
	if name == "" {
		return "attachment"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// FileExtension returns the lowercased extension of a filename without the
// dot, or "unknown" when the name has none.
func FileExtension(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}
