package blob

import (
	"context"
	"errors"
	"io"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"backupd/internal/wire"
)

// Server exposes a Store as the gRPC blob service.
type Server struct {
	store  *Store
	logger *log.Logger
}

var _ wire.BlobServiceServer = (*Server)(nil)

func NewServer(store *Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{store: store, logger: logger}
}

func (s *Server) Put(stream wire.BlobPutServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Holder == nil || *first.Holder == "" {
		return status.Error(codes.InvalidArgument, "expected holder")
	}
	second, err := stream.Recv()
	if err != nil {
		return err
	}
	if second.BlobHash == nil || *second.BlobHash == "" {
		return status.Error(codes.InvalidArgument, "expected blob hash")
	}

	exists, err := s.store.Put(stream.Context(), *first.Holder, *second.BlobHash, &chunkReader{recv: stream.Recv})
	if err != nil {
		s.logger.Printf("[blob] put %s failed: %v", *first.Holder, err)
		return toStatus(err)
	}
	return stream.SendAndClose(&wire.BlobPutResponse{DataExists: exists})
}

func (s *Server) Get(req *wire.BlobGetRequest, stream wire.BlobGetServer) error {
	f, err := s.store.Open(stream.Context(), req.Holder)
	if err != nil {
		return toStatus(err)
	}
	defer f.Close()

	buf := make([]byte, ChunkSize(req.ExtraBytesNeeded))
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if sendErr := stream.Send(&wire.BlobGetResponse{DataChunk: buf[:n]}); sendErr != nil {
				return sendErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			s.logger.Printf("[blob] get %s failed: %v", req.Holder, err)
			return status.Error(codes.Internal, err.Error())
		}
	}
}

func (s *Server) Remove(ctx context.Context, req *wire.BlobRemoveRequest) (*wire.Empty, error) {
	if err := s.store.Remove(ctx, req.Holder); err != nil {
		return nil, toStatus(err)
	}
	return &wire.Empty{}, nil
}

// chunkReader adapts the data chunks of a Put stream to io.Reader.
type chunkReader struct {
	recv func() (*wire.BlobPutRequest, error)
	buf  []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		req, err := r.recv()
		if err != nil {
			return 0, err
		}
		r.buf = req.DataChunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrHolderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrContentRemoved):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
