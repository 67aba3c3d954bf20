package backup

import (
	"context"
	"errors"
	"fmt"

	"backupd/internal/store"
	"backupd/internal/wire"
)

const relocateAttempts = 8

// AddAttachmentHolders registers holders that were uploaded to the blob
// service beforehand. Without a log id they belong to the backup, otherwise
// to the log. An inline log outgrowing the size limit is moved to the blob
// service.
func (s *Service) AddAttachmentHolders(ctx context.Context, req wire.AddAttachmentsRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id required", ErrProtocol)
	}
	if req.BackupID == "" {
		return fmt.Errorf("%w: backup id required", ErrProtocol)
	}
	holders, err := store.ParseHolders(req.Holders)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if req.LogID == "" {
		if _, err := s.store.AppendBackupAttachmentHolders(ctx, req.UserID, req.BackupID, holders...); err != nil {
			return upstreamErr(err)
		}
		return nil
	}

	if _, err := s.store.FindBackup(ctx, req.UserID, req.BackupID); err != nil {
		return lookupErr(err, "backup "+req.BackupID)
	}
	item, err := s.store.AppendLogAttachmentHolders(ctx, req.BackupID, req.LogID, holders...)
	if err != nil {
		return upstreamErr(err)
	}
	if item.PersistedInBlob || item.Size() <= s.logSizeLimit {
		return nil
	}
	return s.relocateLog(ctx, item)
}

// relocateLog uploads the inline value of item to the blob service, then
// replaces the record with one referencing the blob. A concurrent holder
// append makes the replacement retry against the fresh record.
func (s *Service) relocateLog(ctx context.Context, item store.LogItem) error {
	holder := MintHolder(item.BackupID, item.LogID, item.DataHash)
	put := s.blobs.Put(ctx, holder, item.DataHash)
	if err := put.Send(ctx, item.Value); err != nil {
		put.Abort(err)
		_ = put.Wait()
		return upstreamErr(err)
	}
	if err := put.Close(ctx); err != nil {
		_ = put.Wait()
		return upstreamErr(err)
	}
	if err := put.Wait(); err != nil {
		return upstreamErr(err)
	}

	for attempt := 0; attempt < relocateAttempts; attempt++ {
		next := item
		next.PersistedInBlob = true
		next.Value = []byte(holder)
		err := s.store.ReplaceLog(ctx, item, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return upstreamErr(err)
		}
		fresh, err := s.store.FindLog(ctx, item.BackupID, item.LogID)
		if err != nil {
			return lookupErr(err, "log "+item.LogID)
		}
		item = fresh
		if item.PersistedInBlob {
			// Relocated by a concurrent request.
			if err := s.blobs.Remove(ctx, holder); err != nil {
				s.logger.Printf("[backup] remove unused log blob %s failed: %v", holder, err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: relocate log %s gave up after %d attempts", store.ErrConflict, item.LogID, relocateAttempts)
}
