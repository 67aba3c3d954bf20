// Package store persists backup snapshots and their logs.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// AttachmentDelimiter separates holders in a serialized holder list.
const AttachmentDelimiter = ";"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a conditional write that lost against a
	// concurrent writer.
	ErrConflict = errors.New("conflict")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// BackupItem is one backup snapshot of a user.
type BackupItem struct {
	UserID            string   `json:"userID"`
	BackupID          string   `json:"backupID"`
	CreatedAt         int64    `json:"createdAt"` // unix milliseconds
	RecoveryData      []byte   `json:"recoveryData,omitempty"`
	CompactionHolder  string   `json:"compactionHolder"`
	AttachmentHolders []string `json:"attachmentHolders"`
}

// BackupKey identifies a BackupItem.
type BackupKey struct {
	UserID   string
	BackupID string
}

func (b BackupItem) Key() BackupKey {
	return BackupKey{UserID: b.UserID, BackupID: b.BackupID}
}

// LogItem is one incremental log of a backup. Value is the inline payload,
// or the blob holder when PersistedInBlob is set.
type LogItem struct {
	BackupID          string   `json:"backupID"`
	LogID             string   `json:"logID"`
	PersistedInBlob   bool     `json:"persistedInBlob"`
	Value             []byte   `json:"value,omitempty"`
	DataHash          string   `json:"dataHash"`
	AttachmentHolders []string `json:"attachmentHolders"`
}

// Holder returns the blob holder of a blob-persisted log.
func (l LogItem) Holder() string {
	if !l.PersistedInBlob {
		return ""
	}
	return string(l.Value)
}

// Size approximates the stored size of the record: attribute names plus
// their values.
func (l LogItem) Size() int {
	size := len("backupID") + len(l.BackupID)
	size += len("logID") + len(l.LogID)
	size += len("persistedInBlob") + 1
	size += len("value") + len(l.Value)
	size += len("dataHash") + len(l.DataHash)
	size += len("attachmentHolders") + len(JoinHolders(l.AttachmentHolders))
	return size
}

// JoinHolders serializes a holder list.
func JoinHolders(holders []string) string {
	return strings.Join(holders, AttachmentDelimiter)
}

// SplitHolders parses a serialized holder list. Empty items, including a
// trailing delimiter, are dropped.
func SplitHolders(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, AttachmentDelimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseHolders parses client supplied holders strictly: at least one holder
// and no empty items. A single trailing delimiter is accepted.
func ParseHolders(s string) ([]string, error) {
	trimmed := strings.TrimSuffix(s, AttachmentDelimiter)
	if trimmed == "" {
		return nil, errors.New("parse attachment holders failed")
	}
	parts := strings.Split(trimmed, AttachmentDelimiter)
	if slices.Contains(parts, "") {
		return nil, errors.New("empty holder detected")
	}
	return parts, nil
}

// Backend is a key-value persistence for backups and logs.
type Backend interface {
	PutBackup(ctx context.Context, item BackupItem) error
	FindBackup(ctx context.Context, userID, backupID string) (BackupItem, error)
	// FindLatestBackup returns the most recently created backup of userID.
	FindLatestBackup(ctx context.Context, userID string) (BackupItem, error)
	// ListBackupsCreatedBefore pages through backups created before cutoff
	// (unix ms) in a stable backend order, resuming after the given key.
	ListBackupsCreatedBefore(ctx context.Context, cutoff int64, after *BackupKey, limit int) ([]BackupItem, error)
	RemoveBackup(ctx context.Context, userID, backupID string) error
	// SwapBackupHolders replaces the holder list if it still equals old.
	SwapBackupHolders(ctx context.Context, userID, backupID string, old, next []string) error

	PutLog(ctx context.Context, item LogItem) error
	FindLog(ctx context.Context, backupID, logID string) (LogItem, error)
	// FindLogsForBackup returns the logs of backupID ordered by log id.
	FindLogsForBackup(ctx context.Context, backupID string) ([]LogItem, error)
	RemoveLog(ctx context.Context, backupID, logID string) error
	// SwapLogHolders replaces the holder list if it still equals old.
	SwapLogHolders(ctx context.Context, backupID, logID string, old, next []string) error
	// ReplaceLog overwrites an inline log if its holders still equal
	// old.AttachmentHolders and it is not yet persisted in a blob.
	ReplaceLog(ctx context.Context, old, next LogItem) error

	Close() error
}

func notFoundBackup(userID, backupID string) error {
	return fmt.Errorf("%w: backup user id [%s] backup id [%s]", ErrNotFound, userID, backupID)
}

func notFoundLog(backupID, logID string) error {
	return fmt.Errorf("%w: log backup id [%s] log id [%s]", ErrNotFound, backupID, logID)
}

func notFoundLatest(userID string) error {
	return fmt.Errorf("%w: no backup for user id [%s]", ErrNotFound, userID)
}
