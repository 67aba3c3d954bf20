package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"backupd/internal/store"
)

// HolderSeparator joins the parts of a minted holder.
const HolderSeparator = "::"

// MintHolder builds a blob holder from its owner identifiers and a content
// hash. A random suffix makes every holder unique.
func MintHolder(parts ...string) string {
	if len(parts) == 0 {
		return uuid.NewString()
	}
	return strings.Join(parts, HolderSeparator) + HolderSeparator + uuid.NewString()
}

func newBackupID() string {
	return uuid.NewString()
}

// newLogID sorts lexically in creation order within a backup.
func newLogID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString())
}

// requireHash returns the hash carried by a stage message. Hashes end up in
// delimited holder lists, so one containing the delimiter is rejected.
func requireHash(hash *string, what string) (string, error) {
	if hash == nil || *hash == "" {
		return "", fmt.Errorf("%w: expected %s hash", ErrProtocol, what)
	}
	if strings.Contains(*hash, store.AttachmentDelimiter) {
		return "", fmt.Errorf("%w: %s hash contains %q", ErrProtocol, what, store.AttachmentDelimiter)
	}
	return *hash, nil
}
