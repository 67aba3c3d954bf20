package backup

import (
	"context"
	"fmt"

	"backupd/internal/blob"
	"backupd/internal/reactor"
	"backupd/internal/store"
	"backupd/internal/wire"
)

type pullStage interface{ pullStage() }

// pullCompaction streams the snapshot body. get is opened on first entry.
type pullCompaction struct {
	get *blob.GetReactor
}

// pullLogs walks the logs by index. get is set while a blob-persisted log
// is being streamed.
type pullLogs struct {
	index int
	get   *blob.GetReactor
}

func (*pullCompaction) pullStage() {}
func (*pullLogs) pullStage()       {}

// pullReactor handles PullBackup: the compaction first, then every log in
// order. Blob payloads are read by a nested Get whose chunks arrive through
// the bridge; inline logs are emitted straight from the database record.
type pullReactor struct {
	reactor.Base

	svc      *Service
	userID   string
	backupID string

	backup  store.BackupItem
	holders string
	logs    []store.LogItem
	bridge  *reactor.Bridge
	stage   pullStage
	get     *blob.GetReactor
}

func newPullReactor(svc *Service, userID, backupID string) *pullReactor {
	return &pullReactor{svc: svc, userID: userID, backupID: backupID}
}

func (p *pullReactor) Initialize(ctx context.Context) error {
	if p.userID == "" {
		return fmt.Errorf("%w: user id required", ErrProtocol)
	}
	if p.backupID == "" {
		return fmt.Errorf("%w: backup id required", ErrProtocol)
	}
	item, err := p.svc.store.FindBackup(ctx, p.userID, p.backupID)
	if err != nil {
		return lookupErr(err, "backup "+p.backupID)
	}
	logs, err := p.svc.store.FindLogsForBackup(ctx, p.backupID)
	if err != nil {
		return upstreamErr(err)
	}
	p.backup = item
	p.holders = store.JoinHolders(item.AttachmentHolders)
	p.logs = logs
	p.bridge = reactor.NewBridge(p.svc.bridgeCapacity)
	p.stage = &pullCompaction{}
	return nil
}

func (p *pullReactor) WriteResponse(ctx context.Context, resp *wire.PullBackupResponse) (bool, error) {
	for {
		switch st := p.stage.(type) {
		case *pullCompaction:
			if st.get == nil {
				hint := len(p.backup.BackupID) + len(p.holders) + responseFraming
				st.get = p.open(ctx, p.backup.CompactionHolder, hint)
			}
			chunk, err := p.bridge.Pop(ctx)
			if err != nil {
				return false, err
			}
			if len(chunk) > 0 {
				resp.BackupID = p.backup.BackupID
				resp.AttachmentHolders = p.holders
				resp.CompactionChunk = chunk
				return false, nil
			}
			if err := p.closeSection(); err != nil {
				return false, err
			}
			if len(p.logs) == 0 {
				return true, nil
			}
			p.stage = &pullLogs{}

		case *pullLogs:
			if st.index >= len(p.logs) {
				if n := p.bridge.Pending(); n > 0 {
					return false, fmt.Errorf("%w: %d chunks left after the last log", ErrInternal, n)
				}
				return true, nil
			}
			item := p.logs[st.index]
			if !item.PersistedInBlob {
				p.fillLog(resp, item, item.Value)
				st.index++
				return false, nil
			}
			if st.get == nil {
				hint := len(p.backup.BackupID) + len(item.LogID) + len(store.JoinHolders(item.AttachmentHolders)) + responseFraming
				st.get = p.open(ctx, item.Holder(), hint)
			}
			chunk, err := p.bridge.Pop(ctx)
			if err != nil {
				return false, err
			}
			if len(chunk) > 0 {
				p.fillLog(resp, item, chunk)
				return false, nil
			}
			if err := p.closeSection(); err != nil {
				return false, err
			}
			st.get = nil
			st.index++

		default:
			return false, fmt.Errorf("%w: pull stage %T", ErrInternal, st)
		}
	}
}

func (p *pullReactor) fillLog(resp *wire.PullBackupResponse, item store.LogItem, chunk []byte) {
	resp.BackupID = p.backup.BackupID
	resp.LogID = item.LogID
	resp.AttachmentHolders = store.JoinHolders(item.AttachmentHolders)
	resp.LogChunk = chunk
}

func (p *pullReactor) open(ctx context.Context, holder string, hint int) *blob.GetReactor {
	p.get = p.svc.blobs.Get(ctx, holder, int64(hint), p.bridge)
	return p.get
}

// closeSection runs after the end marker of a blob section was popped.
func (p *pullReactor) closeSection() error {
	get := p.get
	p.get = nil
	if err := get.Wait(); err != nil {
		return upstreamErr(err)
	}
	if n := p.bridge.Pending(); n > 0 {
		return fmt.Errorf("%w: %d chunks left after the end marker", ErrInternal, n)
	}
	return nil
}

// OnTerminate stops a nested Get that is still running and waits for it.
// Closing the bridge releases its end marker push.
func (p *pullReactor) OnTerminate(_ context.Context, cause error) error {
	if p.bridge != nil {
		defer p.bridge.Close()
	}
	if p.get == nil {
		return nil
	}
	if cause != nil {
		p.get.Abort(cause)
	}
	p.bridge.Close()
	if err := p.get.Wait(); err != nil && cause == nil {
		return upstreamErr(err)
	}
	return nil
}

func (p *pullReactor) Validate() error {
	if p.get != nil {
		return nil
	}
	if p.bridge != nil && p.bridge.Pending() > 0 {
		return fmt.Errorf("%w: pull finished with %d chunks pending", ErrInternal, p.bridge.Pending())
	}
	return nil
}
