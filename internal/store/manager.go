package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

const defaultAppendAttempts = 8

// Manager is the backup-domain database manager. It adds conditional
// holder appends on top of a Backend.
type Manager struct {
	Backend
	attempts int
}

func NewManager(b Backend) *Manager {
	return &Manager{Backend: b, attempts: defaultAppendAttempts}
}

// AppendBackupAttachmentHolders appends holders to a backup. Concurrent
// appends to the same backup are retried so none of them is lost.
func (m *Manager) AppendBackupAttachmentHolders(ctx context.Context, userID, backupID string, holders ...string) (BackupItem, error) {
	for attempt := 0; attempt < m.attempts; attempt++ {
		item, err := m.FindBackup(ctx, userID, backupID)
		if err != nil {
			return BackupItem{}, err
		}
		next := appendHolders(item.AttachmentHolders, holders)
		err = m.SwapBackupHolders(ctx, userID, backupID, item.AttachmentHolders, next)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return BackupItem{}, err
		}
		item.AttachmentHolders = next
		return item, nil
	}
	return BackupItem{}, fmt.Errorf("%w: append to backup %s gave up after %d attempts", ErrConflict, backupID, m.attempts)
}

// AppendLogAttachmentHolders appends holders to a log with the same retry
// semantics as AppendBackupAttachmentHolders.
func (m *Manager) AppendLogAttachmentHolders(ctx context.Context, backupID, logID string, holders ...string) (LogItem, error) {
	for attempt := 0; attempt < m.attempts; attempt++ {
		item, err := m.FindLog(ctx, backupID, logID)
		if err != nil {
			return LogItem{}, err
		}
		next := appendHolders(item.AttachmentHolders, holders)
		err = m.SwapLogHolders(ctx, backupID, logID, item.AttachmentHolders, next)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return LogItem{}, err
		}
		item.AttachmentHolders = next
		return item, nil
	}
	return LogItem{}, fmt.Errorf("%w: append to log %s/%s gave up after %d attempts", ErrConflict, backupID, logID, m.attempts)
}

// RemoveBackupWithLogs deletes every log of the backup, then the backup.
func (m *Manager) RemoveBackupWithLogs(ctx context.Context, userID, backupID string) error {
	logs, err := m.FindLogsForBackup(ctx, backupID)
	if err != nil {
		return err
	}
	for _, l := range logs {
		if err := m.RemoveLog(ctx, l.BackupID, l.LogID); err != nil {
			return err
		}
	}
	return m.RemoveBackup(ctx, userID, backupID)
}

func appendHolders(current, holders []string) []string {
	next := slices.Clone(current)
	return append(next, holders...)
}

func sameHolders(a, b []string) bool {
	return JoinHolders(a) == JoinHolders(b)
}
