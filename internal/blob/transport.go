package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"

	"backupd/internal/storage"
	"backupd/internal/wire"
)

// Transport opens streams against a blob service.
type Transport interface {
	Put(ctx context.Context) (PutStream, error)
	Get(ctx context.Context, req *wire.BlobGetRequest) (GetStream, error)
	Remove(ctx context.Context, req *wire.BlobRemoveRequest) error
}

// PutStream uploads one blob: holder first, then hash, then data chunks.
type PutStream interface {
	Send(*wire.BlobPutRequest) error
	CloseAndRecv() (*wire.BlobPutResponse, error)
}

// GetStream yields the chunks of one blob and io.EOF after the last one.
type GetStream interface {
	Recv() (*wire.BlobGetResponse, error)
}

// GRPCTransport talks to a remote blob server.
type GRPCTransport struct {
	client *wire.BlobServiceClient
}

var _ Transport = (*GRPCTransport)(nil)

func NewGRPCTransport(cc grpc.ClientConnInterface) *GRPCTransport {
	return &GRPCTransport{client: wire.NewBlobServiceClient(cc)}
}

func (t *GRPCTransport) Put(ctx context.Context) (PutStream, error) {
	return t.client.Put(ctx)
}

func (t *GRPCTransport) Get(ctx context.Context, req *wire.BlobGetRequest) (GetStream, error) {
	return t.client.Get(ctx, req)
}

func (t *GRPCTransport) Remove(ctx context.Context, req *wire.BlobRemoveRequest) error {
	_, err := t.client.Remove(ctx, req)
	return err
}

// LocalTransport serves blob streams from a Store in the same process.
type LocalTransport struct {
	store *Store
}

var _ Transport = (*LocalTransport)(nil)

func NewLocalTransport(store *Store) *LocalTransport {
	return &LocalTransport{store: store}
}

func (t *LocalTransport) Put(ctx context.Context) (PutStream, error) {
	return &localPut{ctx: ctx, store: t.store}, nil
}

func (t *LocalTransport) Get(ctx context.Context, req *wire.BlobGetRequest) (GetStream, error) {
	f, err := t.store.Open(ctx, req.Holder)
	if err != nil {
		return nil, err
	}
	return &localGet{ctx: ctx, file: f, chunkSize: ChunkSize(req.ExtraBytesNeeded)}, nil
}

func (t *LocalTransport) Remove(ctx context.Context, req *wire.BlobRemoveRequest) error {
	return t.store.Remove(ctx, req.Holder)
}

type putResult struct {
	dataExists bool
	err        error
}

// localPut pipes pushed chunks into Store.Put running on its own goroutine.
type localPut struct {
	ctx    context.Context
	store  *Store
	holder string
	pw     *io.PipeWriter
	result chan putResult
	once   sync.Once
}

func (p *localPut) Send(req *wire.BlobPutRequest) error {
	switch {
	case p.holder == "":
		if req.Holder == nil || *req.Holder == "" {
			return fmt.Errorf("%w: expected holder", ErrInvalidRequest)
		}
		p.holder = *req.Holder
		return nil
	case p.pw == nil:
		if req.BlobHash == nil || *req.BlobHash == "" {
			return fmt.Errorf("%w: expected blob hash", ErrInvalidRequest)
		}
		p.start(*req.BlobHash)
		return nil
	default:
		if len(req.DataChunk) == 0 {
			return nil
		}
		_, err := p.pw.Write(req.DataChunk)
		return err
	}
}

func (p *localPut) start(hash string) {
	pr, pw := io.Pipe()
	p.pw = pw
	p.result = make(chan putResult, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		exists, err := p.store.Put(p.ctx, p.holder, hash, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
		}
		p.result <- putResult{dataExists: exists, err: err}
	}()
	go func() {
		select {
		case <-p.ctx.Done():
			_ = pw.CloseWithError(p.ctx.Err())
		case <-finished:
		}
	}()
}

func (p *localPut) CloseAndRecv() (*wire.BlobPutResponse, error) {
	if p.pw == nil {
		return nil, fmt.Errorf("%w: stream closed before holder and hash", ErrInvalidRequest)
	}
	p.once.Do(func() { _ = p.pw.Close() })
	res := <-p.result
	if res.err != nil {
		return nil, res.err
	}
	return &wire.BlobPutResponse{DataExists: res.dataExists}, nil
}

// localGet reads a stored blob in chunks.
type localGet struct {
	ctx       context.Context
	file      *storage.BlobFile
	chunkSize int
	read      int64
	closed    bool
	err       error
}

func (g *localGet) Recv() (*wire.BlobGetResponse, error) {
	if g.closed {
		if g.err != nil {
			return nil, g.err
		}
		return nil, io.EOF
	}
	if err := g.ctx.Err(); err != nil {
		g.close()
		return nil, err
	}
	size := g.chunkSize
	if remaining := g.file.Size() - g.read; remaining < int64(size) {
		size = int(max(remaining, 1))
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(g.file, buf)
	g.read += int64(n)
	if n > 0 {
		if err != nil {
			g.close()
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				g.err = err
			}
		}
		return &wire.BlobGetResponse{DataChunk: buf[:n]}, nil
	}
	g.close()
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, io.EOF
	}
	return nil, err
}

func (g *localGet) close() {
	if !g.closed {
		g.closed = true
		_ = g.file.Close()
	}
}
