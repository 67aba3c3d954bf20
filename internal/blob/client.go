package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"backupd/internal/reactor"
	"backupd/internal/wire"
)

// putQueueCapacity bounds the chunks waiting to be sent on one Put stream.
const putQueueCapacity = 16

// ErrStreamFinished is returned when data is pushed to a stream that
// already completed.
var ErrStreamFinished = errors.New("blob stream already finished")

// Client opens nested blob streams on behalf of the backup pipelines.
type Client struct {
	transport Transport
	logger    *log.Logger
}

func NewClient(transport Transport, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{transport: transport, logger: logger}
}

// Put starts uploading a blob under holder. Feed it with Send, finish it
// with Close and wait for durable confirmation with Wait.
func (c *Client) Put(ctx context.Context, holder, hash string) *PutReactor {
	ctx, cancel := context.WithCancel(ctx)
	p := &PutReactor{
		transport: c.transport,
		holder:    holder,
		hash:      hash,
		chunks:    make(chan []byte, putQueueCapacity),
		cancel:    cancel,
	}
	go func() {
		if err := reactor.RunWriter[wire.BlobPutRequest](ctx, putSender{p}, p); err != nil {
			c.logger.Printf("[blob] put %s failed: %v", holder, err)
		}
	}()
	return p
}

// Get starts downloading the blob under holder into bridge. Chunks are
// sized to leave extraBytesNeeded bytes per message for the caller. An
// empty chunk is pushed once the stream ends, successfully or not.
func (c *Client) Get(ctx context.Context, holder string, extraBytesNeeded int64, bridge *reactor.Bridge) *GetReactor {
	ctx, cancel := context.WithCancel(ctx)
	g := &GetReactor{
		transport: c.transport,
		req:       &wire.BlobGetRequest{Holder: holder, ExtraBytesNeeded: extraBytesNeeded},
		bridge:    bridge,
		cancel:    cancel,
	}
	go func() {
		if err := reactor.RunReader[wire.BlobGetResponse](ctx, getReceiver{g}, g); err != nil {
			c.logger.Printf("[blob] get %s failed: %v", holder, err)
		}
	}()
	return g
}

// Remove deletes the blob reference held by holder.
func (c *Client) Remove(ctx context.Context, holder string) error {
	return c.transport.Remove(ctx, &wire.BlobRemoveRequest{Holder: holder})
}

type putStage int

const (
	putHolder putStage = iota
	putHash
	putData
)

// PutReactor drives one outbound Put stream.
type PutReactor struct {
	reactor.Base

	transport Transport
	holder    string
	hash      string
	chunks    chan []byte
	cancel    context.CancelFunc

	// owned by the driver goroutine
	stream     PutStream
	stage      putStage
	dataExists bool
}

func (p *PutReactor) Initialize(ctx context.Context) error {
	stream, err := p.transport.Put(ctx)
	if err != nil {
		return err
	}
	p.stream = stream
	return nil
}

func (p *PutReactor) WriteResponse(ctx context.Context, req *wire.BlobPutRequest) (bool, error) {
	switch p.stage {
	case putHolder:
		req.Holder = wire.String(p.holder)
		p.stage = putHash
		return false, nil
	case putHash:
		req.BlobHash = wire.String(p.hash)
		p.stage = putData
		return false, nil
	}
	select {
	case chunk := <-p.chunks:
		if len(chunk) == 0 {
			return true, nil
		}
		req.DataChunk = chunk
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *PutReactor) OnTerminate(_ context.Context, cause error) error {
	if cause != nil || p.stream == nil {
		p.cancel()
		return nil
	}
	resp, err := p.stream.CloseAndRecv()
	if err != nil {
		return err
	}
	p.dataExists = resp.DataExists
	return nil
}

func (p *PutReactor) OnDone() {
	p.cancel()
}

// Send queues chunk for upload, blocking while the queue is full. Empty
// chunks are ignored; use Close to end the upload.
func (p *PutReactor) Send(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return p.push(ctx, chunk)
}

// Close marks the end of the data. It does not wait for the upload.
func (p *PutReactor) Close(ctx context.Context) error {
	return p.push(ctx, nil)
}

func (p *PutReactor) push(ctx context.Context, chunk []byte) error {
	st := p.Status()
	select {
	case <-st.Done():
		if err := st.Err(); err != nil {
			return err
		}
		return ErrStreamFinished
	default:
	}
	select {
	case p.chunks <- chunk:
		return nil
	case <-st.Done():
		if err := st.Err(); err != nil {
			return err
		}
		return ErrStreamFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the upload reached a final state and returns its error.
// A nil error means the blob service confirmed the blob durably.
func (p *PutReactor) Wait() error {
	st := p.Status()
	<-st.Done()
	return st.Err()
}

// Abort stops the upload with err unless it already finished.
func (p *PutReactor) Abort(err error) {
	p.Status().RequestTermination(err)
	p.cancel()
}

// DataExists reports whether the blob service already had the content.
// Only valid after Wait returned nil.
func (p *PutReactor) DataExists() bool {
	return p.dataExists
}

type putSender struct{ p *PutReactor }

func (s putSender) Send(req *wire.BlobPutRequest) error { return s.p.stream.Send(req) }

// GetReactor drives one inbound Get stream into a bridge.
type GetReactor struct {
	reactor.Base

	transport Transport
	req       *wire.BlobGetRequest
	bridge    *reactor.Bridge
	cancel    context.CancelFunc

	stream GetStream
}

func (g *GetReactor) Initialize(ctx context.Context) error {
	stream, err := g.transport.Get(ctx, g.req)
	if err != nil {
		return err
	}
	g.stream = stream
	return nil
}

func (g *GetReactor) ReadRequest(ctx context.Context, resp *wire.BlobGetResponse) (bool, error) {
	if len(resp.DataChunk) == 0 {
		return false, nil
	}
	if err := g.bridge.Push(ctx, resp.DataChunk); err != nil {
		return false, fmt.Errorf("forward blob chunk: %w", err)
	}
	return false, nil
}

func (g *GetReactor) OnTerminate(_ context.Context, cause error) error {
	if cause != nil {
		g.cancel()
	}
	return nil
}

// OnDone pushes the end marker. The push waits for room in the bridge and
// gives up once the consumer closes it.
func (g *GetReactor) OnDone() {
	g.cancel()
	_ = g.bridge.Push(context.Background(), nil)
}

// Wait blocks until the download finished and returns its error.
func (g *GetReactor) Wait() error {
	st := g.Status()
	<-st.Done()
	return st.Err()
}

// Abort stops the download with err unless it already finished.
func (g *GetReactor) Abort(err error) {
	g.Status().RequestTermination(err)
	g.cancel()
}

type getReceiver struct{ g *GetReactor }

func (r getReceiver) Recv() (*wire.BlobGetResponse, error) { return r.g.stream.Recv() }
