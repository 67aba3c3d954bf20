package backup

import (
	"context"
	"fmt"

	"backupd/internal/store"
)

// BackupView is a backup with its logs, as shown by the admin API.
type BackupView struct {
	Backup store.BackupItem
	Logs   []store.LogItem
}

// LatestBackup returns the most recently created backup of userID.
func (s *Service) LatestBackup(ctx context.Context, userID string) (store.BackupItem, error) {
	if userID == "" {
		return store.BackupItem{}, fmt.Errorf("%w: user id required", ErrProtocol)
	}
	item, err := s.store.FindLatestBackup(ctx, userID)
	if err != nil {
		return store.BackupItem{}, lookupErr(err, "backup of user "+userID)
	}
	return item, nil
}

// DescribeBackup returns a backup and its logs.
func (s *Service) DescribeBackup(ctx context.Context, userID, backupID string) (BackupView, error) {
	if userID == "" || backupID == "" {
		return BackupView{}, fmt.Errorf("%w: user id and backup id required", ErrProtocol)
	}
	item, err := s.store.FindBackup(ctx, userID, backupID)
	if err != nil {
		return BackupView{}, lookupErr(err, "backup "+backupID)
	}
	logs, err := s.store.FindLogsForBackup(ctx, backupID)
	if err != nil {
		return BackupView{}, upstreamErr(err)
	}
	return BackupView{Backup: item, Logs: logs}, nil
}
