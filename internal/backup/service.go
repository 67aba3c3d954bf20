// Package backup implements the backup service pipelines. Each RPC is
// handled by a reactor driven by the reactor package; reactors that move
// payloads proxy them to nested blob service streams and persist records
// only after the blob service confirmed the upload.
package backup

import (
	"context"
	"io"
	"log"
	"time"

	"backupd/internal/blob"
	"backupd/internal/reactor"
	"backupd/internal/store"
	"backupd/internal/wire"
)

// DefaultLogSizeLimit is the largest log kept inline in the database.
const DefaultLogSizeLimit = 1024 * 1024

// responseFraming is reserved for the encoding overhead of one pull
// response on top of its variable fields.
const responseFraming = 32

type Options struct {
	BridgeCapacity int
	LogSizeLimit   int
	Logger         *log.Logger
}

type Service struct {
	store          *store.Manager
	blobs          *blob.Client
	bridgeCapacity int
	logSizeLimit   int
	logger         *log.Logger
	now            func() time.Time
}

var _ wire.BackupServiceServer = (*Service)(nil)

func NewService(m *store.Manager, blobs *blob.Client, opts Options) *Service {
	if opts.BridgeCapacity <= 0 {
		opts.BridgeCapacity = reactor.DefaultBridgeCapacity
	}
	if opts.LogSizeLimit <= 0 {
		opts.LogSizeLimit = DefaultLogSizeLimit
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		store:          m,
		blobs:          blobs,
		bridgeCapacity: opts.BridgeCapacity,
		logSizeLimit:   opts.LogSizeLimit,
		logger:         opts.Logger,
		now:            time.Now,
	}
}

func (s *Service) CreateNewBackup(stream wire.CreateNewBackupServer) error {
	ctx := stream.Context()
	c := newCreateReactor(ctx, s)
	err := reactor.RunBidi[wire.CreateNewBackupRequest, wire.CreateNewBackupResponse](ctx, stream, c)
	return s.finish("CreateNewBackup", err)
}

func (s *Service) SendLog(stream wire.SendLogServer) error {
	ctx := stream.Context()
	l := newSendLogReactor(s)
	if err := reactor.RunReader[wire.SendLogRequest](ctx, stream, l); err != nil {
		return s.finish("SendLog", err)
	}
	return s.finish("SendLog", stream.SendAndClose(&wire.SendLogResponse{LogCheckpoint: l.logID}))
}

func (s *Service) PullBackup(req *wire.PullBackupRequest, stream wire.PullBackupServer) error {
	p := newPullReactor(s, req.UserID, req.BackupID)
	err := reactor.RunWriter[wire.PullBackupResponse](stream.Context(), stream, p)
	return s.finish("PullBackup", err)
}

func (s *Service) AddAttachment(stream wire.AddAttachmentServer) error {
	ctx := stream.Context()
	a := newAttachmentReactor(s)
	if err := reactor.RunReader[wire.AddAttachmentRequest](ctx, stream, a); err != nil {
		return s.finish("AddAttachment", err)
	}
	return s.finish("AddAttachment", stream.SendAndClose(&wire.Empty{}))
}

func (s *Service) AddAttachments(ctx context.Context, req *wire.AddAttachmentsRequest) (*wire.Empty, error) {
	if err := s.AddAttachmentHolders(ctx, *req); err != nil {
		return nil, s.finish("AddAttachments", err)
	}
	return &wire.Empty{}, nil
}

// finish logs a failed RPC once and converts its error to a status.
func (s *Service) finish(method string, err error) error {
	if err == nil {
		return nil
	}
	s.logger.Printf("[backup] %s failed: %v", method, err)
	return StatusError(err)
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}
