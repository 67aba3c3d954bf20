package retention

import (
	"context"

	"backupd/internal/store"
)

// UserStats counts what one run did for a single user.
type UserStats struct {
	UserID       string `json:"userID"`
	Removed      int    `json:"removed"`
	BlobsRemoved int    `json:"blobsRemoved"`
	Failed       int    `json:"failed"`
}

type Summary struct {
	Scanned      int         `json:"scanned"`
	Kept         int         `json:"kept"`
	Removed      int         `json:"removed"`
	BlobsRemoved int         `json:"blobsRemoved"`
	Failed       int         `json:"failed"`
	ByUser       []UserStats `json:"byUser,omitempty"`
}

// BackupStore is the part of the database manager retention needs.
type BackupStore interface {
	ListBackupsCreatedBefore(ctx context.Context, cutoff int64, after *store.BackupKey, limit int) ([]store.BackupItem, error)
	FindLatestBackup(ctx context.Context, userID string) (store.BackupItem, error)
	FindLogsForBackup(ctx context.Context, backupID string) ([]store.LogItem, error)
	RemoveBackupWithLogs(ctx context.Context, userID, backupID string) error
}

// BlobRemover drops blob references.
type BlobRemover interface {
	Remove(ctx context.Context, holder string) error
}
