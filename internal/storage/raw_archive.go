package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
)

// maxRawNameLength keeps escaped names below common filesystem limits
const maxRawNameLength = 200

// rawNameHashLength is the hex digest kept on truncated names
const rawNameHashLength = 16

// RawArchive keeps whole .eml files in a flat directory next to the shards,
// one file per message-id.
type RawArchive struct {
	root string
}

// NewRawArchive creates the archive directory if needed
func NewRawArchive(root string) (*RawArchive, error) {
	if root == "" {
		return nil, fmt.Errorf("raw archive root cannot be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create raw archive directory: %w", err)
	}
	return &RawArchive{root: root}, nil
}

// EscapeMessageID turns a message-id into a safe file name
func EscapeMessageID(messageID string) string {
	name := url.PathEscape(strings.Trim(messageID, "<> "))
	name = strings.ReplaceAll(name, "..", "%2E%2E")
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	if len(name) > maxRawNameLength {
		sum := sha256.Sum256([]byte(name))
		digest := hex.EncodeToString(sum[:])[:rawNameHashLength]
		name = name[:maxRawNameLength-rawNameHashLength-1] + "-" + digest
	}
	if name == "" {
		name = "unnamed"
	}
	return name + ".eml"
}

// Save writes raw under the escaped message-id and returns the file name.
// An existing file is never overwritten.
func (a *RawArchive) Save(messageID string, raw []byte) (string, error) {
	name := EscapeMessageID(messageID)
	path := filepath.Join(a.root, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: raw message %s already archived", apperrors.ErrStorage, name)
		}
		return "", fmt.Errorf("%w: failed to create raw message: %v", apperrors.ErrStorage, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: failed to write raw message: %v", apperrors.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: failed to write raw message: %v", apperrors.ErrStorage, err)
	}
	return name, nil
}

// Remove deletes an archived message; a missing file is not an error
func (a *RawArchive) Remove(name string) error {
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return ErrPathTraversal
	}
	if err := os.Remove(filepath.Join(a.root, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove raw message: %v", apperrors.ErrStorage, err)
	}
	return nil
}

// Path returns the absolute location of an archived message
func (a *RawArchive) Path(name string) string {
	return filepath.Join(a.root, name)
}
