// Package reactor drives RPC streams through handler callbacks.
//
// A handler supplies the per-message callbacks; the drivers in this package
// loop over the stream, translate handler errors into termination, and run
// the termination path exactly once: OnTerminate, then Validate, then the
// final state transition. OnDone runs last, once, on every exit.
package reactor

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrRead wraps failures receiving from the peer.
	ErrRead = errors.New("stream read failed")
	// ErrWrite wraps failures sending to the peer.
	ErrWrite = errors.New("stream write failed")
	// ErrPanic wraps a recovered handler panic.
	ErrPanic = errors.New("handler panicked")
)

// Reactor is the capability set every stream handler implements.
type Reactor interface {
	Status() *StatusHolder
	// Validate checks accumulated state once the stream stops. An error
	// fails an otherwise successful stream.
	Validate() error
	// OnTerminate runs when termination was requested with cause (nil on
	// normal completion). It may wait for nested streams to complete.
	OnTerminate(ctx context.Context, cause error) error
	// OnDone runs exactly once after no more I/O will happen.
	OnDone()
}

// Initializer is implemented by handlers that need to run setup before the
// first message is exchanged.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Writer produces responses for an outbound stream. Returning done or an
// error stops the loop without sending resp.
type Writer[T any] interface {
	Reactor
	WriteResponse(ctx context.Context, resp *T) (done bool, err error)
}

// Reader consumes requests of an inbound stream. Returning done or an error
// stops the loop; the peer closing the stream completes it normally.
type Reader[T any] interface {
	Reactor
	ReadRequest(ctx context.Context, req *T) (done bool, err error)
}

// Bidi drives both directions at once. OnReadsDone is called when the peer
// half-closes its side.
type Bidi[Req, Resp any] interface {
	Reactor
	ReadRequest(ctx context.Context, req *Req) (done bool, err error)
	WriteResponse(ctx context.Context, resp *Resp) (done bool, err error)
	OnReadsDone()
}

// Base supplies the status holder and no-op hooks. Embed it in handlers.
type Base struct {
	once   sync.Once
	status *StatusHolder
}

func (b *Base) Status() *StatusHolder {
	b.once.Do(func() { b.status = NewStatusHolder() })
	return b.status
}

func (b *Base) Validate() error                          { return nil }
func (b *Base) OnTerminate(context.Context, error) error { return nil }
func (b *Base) OnDone()                                  {}

// Sender is the outbound half of a stream.
type Sender[T any] interface {
	Send(*T) error
}

// Receiver is the inbound half of a stream. It returns io.EOF once the
// peer closed its side.
type Receiver[T any] interface {
	Recv() (*T, error)
}

// Duplex is a stream carrying both directions.
type Duplex[Req, Resp any] interface {
	Sender[Resp]
	Receiver[Req]
}
