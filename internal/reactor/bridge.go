package reactor

import (
	"context"
	"errors"
	"sync"
)

// DefaultBridgeCapacity bounds the chunks buffered between two streams.
const DefaultBridgeCapacity = 100

// ErrBridgeClosed is returned by Push and Pop after Close.
var ErrBridgeClosed = errors.New("bridge closed")

// Bridge hands chunks from one stream's goroutine to another's through a
// bounded FIFO. A producer blocks while the queue is full. An empty chunk
// marks the end of a section.
type Bridge struct {
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultBridgeCapacity
	}
	return &Bridge{
		ch:     make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues chunk, waiting for room until ctx ends or the bridge closes.
func (b *Bridge) Push(ctx context.Context, chunk []byte) error {
	select {
	case <-b.closed:
		return ErrBridgeClosed
	default:
	}
	select {
	case b.ch <- chunk:
		return nil
	case <-b.closed:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the oldest chunk, waiting until one is available, ctx ends,
// or the bridge closes.
func (b *Bridge) Pop(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-b.ch:
		return chunk, nil
	default:
	}
	select {
	case chunk := <-b.ch:
		return chunk, nil
	case <-b.closed:
		return nil, ErrBridgeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of queued chunks.
func (b *Bridge) Pending() int {
	return len(b.ch)
}

// Close releases every blocked Push and Pop. It is safe to call repeatedly.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.closed) })
}
