package backup

import (
	"context"
	"fmt"

	"backupd/internal/blob"
	"backupd/internal/reactor"
	"backupd/internal/store"
	"backupd/internal/wire"
)

// attachmentStage is the upload stage. Each variant holds only what is
// known once the stream reached it.
type attachmentStage interface{ attachmentStage() }

type (
	awaitAttachmentUser struct{}

	awaitAttachmentBackup struct {
		userID string
	}

	awaitAttachmentLog struct {
		backup store.BackupItem
	}

	awaitAttachmentHash struct {
		target attachmentTarget
	}

	attachmentData struct {
		target attachmentTarget
		holder string
		put    *blob.PutReactor
	}
)

func (awaitAttachmentUser) attachmentStage()   {}
func (awaitAttachmentBackup) attachmentStage() {}
func (awaitAttachmentLog) attachmentStage()    {}
func (*awaitAttachmentHash) attachmentStage()  {}
func (*attachmentData) attachmentStage()       {}

// attachmentTarget is the record an attachment belongs to: the backup, or
// one of its logs when log is set.
type attachmentTarget struct {
	backup store.BackupItem
	log    *store.LogItem
	hash   string
}

func (t attachmentTarget) mintHolder() string {
	if t.log != nil {
		return MintHolder(t.backup.BackupID, t.log.LogID, t.hash)
	}
	return MintHolder(t.backup.BackupID, t.backup.CompactionHolder, t.hash)
}

// attachmentReactor handles AddAttachment. Fields arrive one per message:
// user id, backup id, an optional log id, the data hash, then data chunks
// that are proxied to a blob Put. The holder is appended to the owning
// record once the blob service confirmed the upload.
type attachmentReactor struct {
	reactor.Base

	svc   *Service
	stage attachmentStage
}

func newAttachmentReactor(svc *Service) *attachmentReactor {
	return &attachmentReactor{svc: svc, stage: awaitAttachmentUser{}}
}

func (a *attachmentReactor) ReadRequest(ctx context.Context, req *wire.AddAttachmentRequest) (bool, error) {
	switch st := a.stage.(type) {
	case awaitAttachmentUser:
		if req.UserID == nil || *req.UserID == "" {
			return false, fmt.Errorf("%w: expected user id", ErrProtocol)
		}
		a.stage = awaitAttachmentBackup{userID: *req.UserID}

	case awaitAttachmentBackup:
		if req.BackupID == nil || *req.BackupID == "" {
			return false, fmt.Errorf("%w: expected backup id", ErrProtocol)
		}
		item, err := a.svc.store.FindBackup(ctx, st.userID, *req.BackupID)
		if err != nil {
			return false, lookupErr(err, "backup "+*req.BackupID)
		}
		a.stage = awaitAttachmentLog{backup: item}

	case awaitAttachmentLog:
		if req.LogID == nil || *req.LogID == "" {
			a.stage = &awaitAttachmentHash{target: attachmentTarget{backup: st.backup}}
			if req.IsEmpty() {
				return false, nil
			}
			return a.ReadRequest(ctx, req)
		}
		item, err := a.svc.store.FindLog(ctx, st.backup.BackupID, *req.LogID)
		if err != nil {
			return false, lookupErr(err, "log "+*req.LogID)
		}
		a.stage = &awaitAttachmentHash{target: attachmentTarget{backup: st.backup, log: &item}}

	case *awaitAttachmentHash:
		hash, err := requireHash(req.DataHash, "data")
		if err != nil {
			return false, err
		}
		target := st.target
		target.hash = hash
		a.stage = &attachmentData{target: target}

	case *attachmentData:
		if req.UserID != nil || req.BackupID != nil || req.LogID != nil || req.DataHash != nil {
			return false, fmt.Errorf("%w: expected data chunk", ErrProtocol)
		}
		if st.put == nil {
			st.holder = st.target.mintHolder()
			st.put = a.svc.blobs.Put(ctx, st.holder, st.target.hash)
		}
		if err := st.put.Send(ctx, req.DataChunk); err != nil {
			return false, upstreamErr(err)
		}
	}
	return false, nil
}

// OnTerminate finalizes the upload. The holder is recorded only after the
// nested Put reported durable completion; on failure the Put is aborted
// and awaited so it never outlives the request.
func (a *attachmentReactor) OnTerminate(ctx context.Context, cause error) error {
	st, ok := a.stage.(*attachmentData)
	if cause != nil {
		if ok && st.put != nil {
			st.put.Abort(cause)
			_ = st.put.Wait()
		}
		return nil
	}
	if !ok || st.put == nil {
		return fmt.Errorf("%w: attachment stream ended before any data", ErrInternal)
	}
	if err := st.put.Close(ctx); err != nil {
		_ = st.put.Wait()
		return upstreamErr(err)
	}
	if err := st.put.Wait(); err != nil {
		return upstreamErr(err)
	}

	t := st.target
	var err error
	if t.log != nil {
		_, err = a.svc.store.AppendLogAttachmentHolders(ctx, t.backup.BackupID, t.log.LogID, st.holder)
	} else {
		_, err = a.svc.store.AppendBackupAttachmentHolders(ctx, t.backup.UserID, t.backup.BackupID, st.holder)
	}
	if err != nil {
		return upstreamErr(err)
	}
	return nil
}
