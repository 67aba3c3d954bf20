package backup

import (
	"context"
	"fmt"
	"sync"

	"backupd/internal/blob"
	"backupd/internal/reactor"
	"backupd/internal/store"
	"backupd/internal/wire"
)

type createStage interface{ createStage() }

type (
	awaitCreateUser struct{}

	awaitCreateDevice struct {
		userID string
	}

	awaitCreateEntropy struct {
		userID   string
		deviceID string
	}

	awaitCreateHash struct {
		userID     string
		deviceID   string
		keyEntropy []byte
	}

	createData struct {
		item store.BackupItem
		put  *blob.PutReactor
		// chunks counts forwarded data messages.
		chunks int
	}
)

func (awaitCreateUser) createStage()    {}
func (awaitCreateDevice) createStage()  {}
func (awaitCreateEntropy) createStage() {}
func (awaitCreateHash) createStage()    {}
func (*createData) createStage()        {}

// createReactor handles CreateNewBackup. Requests arrive as user id, device
// id, key entropy, compaction hash and compaction chunks. Once the hash is
// known the backup id is minted and sent back while the compaction is
// still uploading; the backup record is written after the upload was
// confirmed.
type createReactor struct {
	reactor.Base

	// rpcCtx outlives the driver's loop context, so the nested Put can be
	// finished after the loop stopped.
	rpcCtx context.Context
	svc    *Service

	// owned by the reading goroutine until the driver stops it
	stage createStage

	backupIDs chan string
	readsDone chan struct{}
	readsOnce sync.Once

	// owned by the writing goroutine
	sentID bool
}

func newCreateReactor(ctx context.Context, svc *Service) *createReactor {
	return &createReactor{
		rpcCtx:    ctx,
		svc:       svc,
		stage:     awaitCreateUser{},
		backupIDs: make(chan string, 1),
		readsDone: make(chan struct{}),
	}
}

func (c *createReactor) ReadRequest(ctx context.Context, req *wire.CreateNewBackupRequest) (bool, error) {
	switch st := c.stage.(type) {
	case awaitCreateUser:
		if req.UserID == nil || *req.UserID == "" {
			return false, fmt.Errorf("%w: expected user id", ErrProtocol)
		}
		c.stage = awaitCreateDevice{userID: *req.UserID}

	case awaitCreateDevice:
		if req.DeviceID == nil || *req.DeviceID == "" {
			return false, fmt.Errorf("%w: expected device id", ErrProtocol)
		}
		c.stage = awaitCreateEntropy{userID: st.userID, deviceID: *req.DeviceID}

	case awaitCreateEntropy:
		if len(req.KeyEntropy) == 0 {
			return false, fmt.Errorf("%w: expected key entropy", ErrProtocol)
		}
		c.stage = awaitCreateHash{userID: st.userID, deviceID: st.deviceID, keyEntropy: req.KeyEntropy}

	case awaitCreateHash:
		hash, err := requireHash(req.NewCompactionHash, "compaction")
		if err != nil {
			return false, err
		}
		backupID := newBackupID()
		holder := MintHolder(backupID, hash)
		c.stage = &createData{
			item: store.BackupItem{
				UserID:           st.userID,
				BackupID:         backupID,
				RecoveryData:     st.keyEntropy,
				CompactionHolder: holder,
			},
			put: c.svc.blobs.Put(c.rpcCtx, holder, hash),
		}
		c.backupIDs <- backupID

	case *createData:
		if req.UserID != nil || req.DeviceID != nil || len(req.KeyEntropy) > 0 || req.NewCompactionHash != nil {
			return false, fmt.Errorf("%w: expected compaction chunk", ErrProtocol)
		}
		if len(req.NewCompactionChunk) == 0 {
			return false, nil
		}
		if err := st.put.Send(ctx, req.NewCompactionChunk); err != nil {
			return false, upstreamErr(err)
		}
		st.chunks++
	}
	return false, nil
}

func (c *createReactor) OnReadsDone() {
	c.readsOnce.Do(func() { close(c.readsDone) })
}

// WriteResponse sends the backup id once it was minted, then waits for the
// client to finish sending before completing.
func (c *createReactor) WriteResponse(ctx context.Context, resp *wire.CreateNewBackupResponse) (bool, error) {
	if c.sentID {
		select {
		case <-c.readsDone:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	select {
	case id := <-c.backupIDs:
		resp.BackupID = id
		c.sentID = true
		return false, nil
	case <-c.readsDone:
		select {
		case id := <-c.backupIDs:
			resp.BackupID = id
			c.sentID = true
			return false, nil
		default:
			return true, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// OnTerminate finishes the compaction upload and records the backup once
// the blob service confirmed it.
func (c *createReactor) OnTerminate(_ context.Context, cause error) error {
	st, ok := c.stage.(*createData)
	if cause != nil {
		if ok {
			st.put.Abort(cause)
			_ = st.put.Wait()
		}
		return nil
	}
	if !ok || st.chunks == 0 {
		if ok {
			st.put.Abort(ErrInternal)
			_ = st.put.Wait()
		}
		return fmt.Errorf("%w: backup stream ended before any compaction data", ErrInternal)
	}
	if err := st.put.Close(c.rpcCtx); err != nil {
		_ = st.put.Wait()
		return upstreamErr(err)
	}
	if err := st.put.Wait(); err != nil {
		return upstreamErr(err)
	}

	item := st.item
	item.CreatedAt = c.svc.nowMillis()
	if err := c.svc.store.PutBackup(c.rpcCtx, item); err != nil {
		return upstreamErr(err)
	}
	return nil
}
