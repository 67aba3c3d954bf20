package backup

import (
	"context"
	"fmt"

	"backupd/internal/blob"
	"backupd/internal/reactor"
	"backupd/internal/store"
	"backupd/internal/wire"
)

type sendLogStage interface{ sendLogStage() }

type (
	awaitLogUser struct{}

	awaitLogBackup struct {
		userID string
	}

	awaitLogHash struct {
		backup store.BackupItem
	}

	// logData buffers the payload in memory until it outgrows the inline
	// limit; from then on it is proxied to put.
	logData struct {
		item   store.LogItem
		buf    []byte
		holder string
		put    *blob.PutReactor
	}
)

func (awaitLogUser) sendLogStage()   {}
func (awaitLogBackup) sendLogStage() {}
func (awaitLogHash) sendLogStage()   {}
func (*logData) sendLogStage()       {}

// sendLogReactor handles SendLog: user id, backup id, log hash, then log
// data. Small logs are stored inline, larger ones in the blob service.
type sendLogReactor struct {
	reactor.Base

	svc   *Service
	stage sendLogStage
	logID string
}

func newSendLogReactor(svc *Service) *sendLogReactor {
	return &sendLogReactor{svc: svc, stage: awaitLogUser{}}
}

func (l *sendLogReactor) ReadRequest(ctx context.Context, req *wire.SendLogRequest) (bool, error) {
	switch st := l.stage.(type) {
	case awaitLogUser:
		if req.UserID == nil || *req.UserID == "" {
			return false, fmt.Errorf("%w: expected user id", ErrProtocol)
		}
		l.stage = awaitLogBackup{userID: *req.UserID}

	case awaitLogBackup:
		if req.BackupID == nil || *req.BackupID == "" {
			return false, fmt.Errorf("%w: expected backup id", ErrProtocol)
		}
		item, err := l.svc.store.FindBackup(ctx, st.userID, *req.BackupID)
		if err != nil {
			return false, lookupErr(err, "backup "+*req.BackupID)
		}
		l.stage = awaitLogHash{backup: item}

	case awaitLogHash:
		hash, err := requireHash(req.LogHash, "log")
		if err != nil {
			return false, err
		}
		l.stage = &logData{item: store.LogItem{
			BackupID: st.backup.BackupID,
			LogID:    newLogID(l.svc.now()),
			DataHash: hash,
		}}

	case *logData:
		if req.UserID != nil || req.BackupID != nil || req.LogHash != nil {
			return false, fmt.Errorf("%w: expected log data", ErrProtocol)
		}
		if len(req.LogData) == 0 {
			return false, nil
		}
		if st.put == nil && len(st.buf)+len(req.LogData) <= l.svc.logSizeLimit {
			st.buf = append(st.buf, req.LogData...)
			return false, nil
		}
		if st.put == nil {
			st.holder = MintHolder(st.item.BackupID, st.item.LogID, st.item.DataHash)
			st.put = l.svc.blobs.Put(ctx, st.holder, st.item.DataHash)
			if err := st.put.Send(ctx, st.buf); err != nil {
				return false, upstreamErr(err)
			}
			st.buf = nil
		}
		if err := st.put.Send(ctx, req.LogData); err != nil {
			return false, upstreamErr(err)
		}
	}
	return false, nil
}

// OnTerminate writes the log record: inline, or as a blob reference after
// the upload was confirmed.
func (l *sendLogReactor) OnTerminate(ctx context.Context, cause error) error {
	st, ok := l.stage.(*logData)
	if cause != nil {
		if ok && st.put != nil {
			st.put.Abort(cause)
			_ = st.put.Wait()
		}
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: log stream ended before the log hash", ErrProtocol)
	}

	item := st.item
	if st.put != nil {
		if err := st.put.Close(ctx); err != nil {
			_ = st.put.Wait()
			return upstreamErr(err)
		}
		if err := st.put.Wait(); err != nil {
			return upstreamErr(err)
		}
		item.PersistedInBlob = true
		item.Value = []byte(st.holder)
	} else {
		item.Value = st.buf
	}
	if err := l.svc.store.PutLog(ctx, item); err != nil {
		return upstreamErr(err)
	}
	l.logID = item.LogID
	return nil
}
