package reactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// RunWriter drives an outbound stream until w signals completion or fails.
// It returns the reactor's final error.
func RunWriter[T any](ctx context.Context, out Sender[T], w Writer[T]) error {
	defer w.OnDone()

	if init, ok := w.(Initializer); ok {
		if err := guard(func() error { return init.Initialize(ctx) }); err != nil {
			return terminate(ctx, w, err)
		}
	}
	for {
		if !w.Status().Running() {
			return terminate(ctx, w, nil)
		}
		if err := ctx.Err(); err != nil {
			return terminate(ctx, w, err)
		}
		resp := new(T)
		var done bool
		err := guard(func() (err error) {
			done, err = w.WriteResponse(ctx, resp)
			return err
		})
		if err != nil || done {
			return terminate(ctx, w, err)
		}
		if err := out.Send(resp); err != nil {
			return terminate(ctx, w, fmt.Errorf("%w: %v", ErrWrite, err))
		}
	}
}

// RunReader drives an inbound stream until the peer closes it, r signals
// completion, or a failure occurs. It returns the reactor's final error.
func RunReader[T any](ctx context.Context, in Receiver[T], r Reader[T]) error {
	defer r.OnDone()

	if init, ok := r.(Initializer); ok {
		if err := guard(func() error { return init.Initialize(ctx) }); err != nil {
			return terminate(ctx, r, err)
		}
	}
	for {
		if !r.Status().Running() {
			return terminate(ctx, r, nil)
		}
		req, err := in.Recv()
		if errors.Is(err, io.EOF) {
			return terminate(ctx, r, nil)
		}
		if err != nil {
			return terminate(ctx, r, fmt.Errorf("%w: %v", ErrRead, err))
		}
		var done bool
		err = guard(func() (err error) {
			done, err = r.ReadRequest(ctx, req)
			return err
		})
		if err != nil || done {
			return terminate(ctx, r, err)
		}
	}
}

// RunBidi drives both directions of a stream. Requests are consumed on a
// separate goroutine while responses are produced on the calling one; the
// first failure on either side terminates the reactor.
func RunBidi[Req, Resp any](ctx context.Context, stream Duplex[Req, Resp], b Bidi[Req, Resp]) error {
	defer b.OnDone()

	if init, ok := b.(Initializer); ok {
		if err := guard(func() error { return init.Initialize(ctx) }); err != nil {
			return terminate(ctx, b, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The reader may stay blocked in Recv until the RPC returns, so it is
	// never awaited. mu keeps it from calling into b once the writer left.
	var (
		mu      sync.Mutex
		stopped bool
	)
	go func() {
		for {
			req, err := stream.Recv()
			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			finished := true
			switch {
			case errors.Is(err, io.EOF):
				b.OnReadsDone()
			case err != nil:
				b.Status().RequestTermination(fmt.Errorf("%w: %v", ErrRead, err))
			default:
				var done bool
				err = guard(func() (err error) {
					done, err = b.ReadRequest(runCtx, req)
					return err
				})
				switch {
				case err != nil:
					b.Status().RequestTermination(err)
				case done:
					b.OnReadsDone()
				default:
					finished = false
				}
			}
			mu.Unlock()
			if finished {
				if !b.Status().Running() {
					cancel()
				}
				return
			}
		}
	}()

	werr := func() error {
		for {
			if !b.Status().Running() {
				return nil
			}
			if err := runCtx.Err(); err != nil {
				return err
			}
			resp := new(Resp)
			var done bool
			err := guard(func() (err error) {
				done, err = b.WriteResponse(runCtx, resp)
				return err
			})
			if err != nil || done {
				return err
			}
			if err := stream.Send(resp); err != nil {
				return fmt.Errorf("%w: %v", ErrWrite, err)
			}
		}
	}()

	cancel()
	mu.Lock()
	stopped = true
	mu.Unlock()
	return terminate(ctx, b, werr)
}

// terminate runs the termination path once. A cause recorded earlier wins
// over cause; cleanup and validation failures only surface when nothing
// failed before them.
func terminate(ctx context.Context, r Reactor, cause error) error {
	st := r.Status()
	st.RequestTermination(cause)
	if !st.claim() {
		<-st.Done()
		return st.Err()
	}
	_, err := st.State()
	if terr := guard(func() error { return r.OnTerminate(ctx, err) }); terr != nil && err == nil {
		err = terr
	}
	if verr := guard(r.Validate); verr != nil && err == nil {
		err = verr
	}
	st.finish(err)
	return err
}

func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return fn()
}
